package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"ZKCipherAI/internal/proof"
)

// ErrProofNotFound indicates the requested proof hash is not archived.
var ErrProofNotFound = errors.New("proof not archived")

// ProofRecord is the archived form of an issued proof handle, plus anchor
// metadata filled in when the proof is recorded on-chain.
type ProofRecord struct {
	ProofHash        string         `json:"proof_hash"`
	CircuitID        string         `json:"circuit_id"`
	PublicSignals    map[string]any `json:"public_signals"`
	Blob             []byte         `json:"blob"`
	CompressionRatio float64        `json:"compression_ratio"`
	GenerationMs     int64          `json:"generation_ms"`
	TrustScore       *float64       `json:"trust_score,omitempty"`
	AnchorTx         string         `json:"anchor_tx,omitempty"`
	AnchorSlot       uint64         `json:"anchor_slot,omitempty"`
	CreatedAt        int64          `json:"created_at"`
}

// RecordFromHandle converts a proof handle into its archive form.
func RecordFromHandle(h *proof.Handle) ProofRecord {
	record := ProofRecord{
		ProofHash:        h.ProofHash,
		CircuitID:        h.CircuitID,
		PublicSignals:    h.PublicSignals,
		Blob:             h.Blob,
		CompressionRatio: h.CompressionRatio,
		GenerationMs:     h.GenerationDurationMs,
		CreatedAt:        h.CreatedAt,
	}
	if h.TrustScoreAtCreation != nil {
		score := *h.TrustScoreAtCreation
		record.TrustScore = &score
	}
	return record
}

// VerificationRecord is one archived verification outcome.
type VerificationRecord struct {
	ProofHash  string          `json:"proof_hash"`
	Verified   bool            `json:"verified"`
	TrustScore float64         `json:"trust_score"`
	Criteria   map[string]bool `json:"criteria"`
	Error      string          `json:"error,omitempty"`
	VerifiedAt int64           `json:"verified_at"`
}

// ProofArchive persists proofs and their verification history.
type ProofArchive interface {
	SaveProof(ctx context.Context, record ProofRecord) error
	GetProof(ctx context.Context, proofHash string) (*ProofRecord, error)
	ListLatest(ctx context.Context, limit int) ([]ProofRecord, error)
	SaveVerification(ctx context.Context, record VerificationRecord) error
	ListVerifications(ctx context.Context, proofHash string, limit int) ([]VerificationRecord, error)
	Close() error
}

// FileArchive keeps the archive in local JSON line files, handy during
// development when no MySQL is around.
type FileArchive struct {
	mu          sync.RWMutex
	proofFile   string
	verifyFile  string
	proofs      []ProofRecord
	byHash      map[string]int
	verifyByKey map[string][]VerificationRecord
}

const fileArchiveCap = 512

// NewFileArchive creates or reopens a file-backed archive under dataDir.
func NewFileArchive(dataDir string) (*FileArchive, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	a := &FileArchive{
		proofFile:   filepath.Join(dataDir, "proofs.log"),
		verifyFile:  filepath.Join(dataDir, "verifications.log"),
		byHash:      make(map[string]int),
		verifyByKey: make(map[string][]VerificationRecord),
	}
	if err := a.loadFromDisk(); err != nil {
		return nil, err
	}
	return a, nil
}

// SaveProof appends the record and updates the in-memory index.
func (a *FileArchive) SaveProof(_ context.Context, record ProofRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := appendJSONLine(a.proofFile, record); err != nil {
		return err
	}
	if idx, ok := a.byHash[record.ProofHash]; ok {
		a.proofs[idx] = record
		return nil
	}
	a.proofs = append(a.proofs, record)
	if len(a.proofs) > fileArchiveCap {
		drop := a.proofs[0]
		delete(a.byHash, drop.ProofHash)
		a.proofs = a.proofs[1:]
		for hash, idx := range a.byHash {
			a.byHash[hash] = idx - 1
		}
	}
	a.byHash[record.ProofHash] = len(a.proofs) - 1
	return nil
}

// GetProof looks up a proof by hash.
func (a *FileArchive) GetProof(_ context.Context, proofHash string) (*ProofRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	idx, ok := a.byHash[proofHash]
	if !ok {
		return nil, ErrProofNotFound
	}
	record := a.proofs[idx]
	return &record, nil
}

// ListLatest returns the most recently archived proofs, newest first.
func (a *FileArchive) ListLatest(_ context.Context, limit int) ([]ProofRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if limit <= 0 || limit > len(a.proofs) {
		limit = len(a.proofs)
	}
	results := make([]ProofRecord, 0, limit)
	for i := len(a.proofs) - 1; i >= 0 && len(results) < limit; i-- {
		results = append(results, a.proofs[i])
	}
	return results, nil
}

// SaveVerification appends the outcome to the verification log.
func (a *FileArchive) SaveVerification(_ context.Context, record VerificationRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := appendJSONLine(a.verifyFile, record); err != nil {
		return err
	}
	history := append(a.verifyByKey[record.ProofHash], record)
	if len(history) > fileArchiveCap {
		history = history[len(history)-fileArchiveCap:]
	}
	a.verifyByKey[record.ProofHash] = history
	return nil
}

// ListVerifications returns the newest outcomes for a proof hash.
func (a *FileArchive) ListVerifications(_ context.Context, proofHash string, limit int) ([]VerificationRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	history := a.verifyByKey[proofHash]
	if limit <= 0 || limit > len(history) {
		limit = len(history)
	}
	results := make([]VerificationRecord, 0, limit)
	for i := len(history) - 1; i >= 0 && len(results) < limit; i-- {
		results = append(results, history[i])
	}
	return results, nil
}

// Close is a no-op; files are opened per write.
func (a *FileArchive) Close() error { return nil }

func (a *FileArchive) loadFromDisk() error {
	if err := readJSONLines(a.proofFile, func(raw []byte) {
		var record ProofRecord
		if json.Unmarshal(raw, &record) == nil && record.ProofHash != "" {
			if idx, ok := a.byHash[record.ProofHash]; ok {
				a.proofs[idx] = record
				return
			}
			a.proofs = append(a.proofs, record)
			a.byHash[record.ProofHash] = len(a.proofs) - 1
		}
	}); err != nil {
		return err
	}
	if len(a.proofs) > fileArchiveCap {
		a.proofs = a.proofs[len(a.proofs)-fileArchiveCap:]
		a.byHash = make(map[string]int, len(a.proofs))
		for i, record := range a.proofs {
			a.byHash[record.ProofHash] = i
		}
	}
	return readJSONLines(a.verifyFile, func(raw []byte) {
		var record VerificationRecord
		if json.Unmarshal(raw, &record) == nil && record.ProofHash != "" {
			a.verifyByKey[record.ProofHash] = append(a.verifyByKey[record.ProofHash], record)
		}
	})
}

func appendJSONLine(path string, value any) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open archive log: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode archive record: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("write archive log: %w", err)
	}
	return nil
}

func readJSONLines(path string, apply func(raw []byte)) error {
	file, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open archive log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		apply(scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan archive log: %w", err)
	}
	return nil
}

// SQLArchive is the MySQL-backed archive.
type SQLArchive struct {
	db *sql.DB
}

// NewSQLArchive opens the pool and applies pending migrations.
func NewSQLArchive(ctx context.Context, cfg Config) (*SQLArchive, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	archive := &SQLArchive{db: db}
	if err := archive.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return archive, nil
}

// SaveProof upserts the record keyed by proof hash. Re-saving an archived
// proof refreshes trust score and anchor metadata only.
func (s *SQLArchive) SaveProof(ctx context.Context, record ProofRecord) error {
	signals, err := json.Marshal(record.PublicSignals)
	if err != nil {
		return fmt.Errorf("encode public signals: %w", err)
	}

	const stmt = `INSERT INTO proof_archive
        (proof_hash, circuit_id, public_signals, blob, compression_ratio, generation_ms, trust_score, anchor_tx, anchor_slot, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE trust_score = VALUES(trust_score), anchor_tx = VALUES(anchor_tx), anchor_slot = VALUES(anchor_slot)`

	var trustScore sql.NullFloat64
	if record.TrustScore != nil {
		trustScore = sql.NullFloat64{Float64: *record.TrustScore, Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, stmt,
		record.ProofHash,
		record.CircuitID,
		string(signals),
		record.Blob,
		record.CompressionRatio,
		record.GenerationMs,
		trustScore,
		record.AnchorTx,
		record.AnchorSlot,
		record.CreatedAt,
	); err != nil {
		return fmt.Errorf("archive proof: %w", err)
	}
	return nil
}

const proofColumns = `proof_hash, circuit_id, public_signals, blob, compression_ratio, generation_ms, trust_score, anchor_tx, anchor_slot, created_at`

// GetProof looks up a proof by hash.
func (s *SQLArchive) GetProof(ctx context.Context, proofHash string) (*ProofRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+proofColumns+` FROM proof_archive WHERE proof_hash = ?`, proofHash)
	record, err := scanProofRecord(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProofNotFound
		}
		return nil, err
	}
	return record, nil
}

// ListLatest returns the most recently archived proofs.
func (s *SQLArchive) ListLatest(ctx context.Context, limit int) ([]ProofRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+proofColumns+` FROM proof_archive ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list archived proofs: %w", err)
	}
	defer rows.Close()

	var records []ProofRecord
	for rows.Next() {
		record, err := scanProofRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived proofs: %w", err)
	}
	return records, nil
}

// SaveVerification appends the outcome to the verification log.
func (s *SQLArchive) SaveVerification(ctx context.Context, record VerificationRecord) error {
	criteria, err := json.Marshal(record.Criteria)
	if err != nil {
		return fmt.Errorf("encode criteria: %w", err)
	}
	const stmt = `INSERT INTO verification_log (proof_hash, verified, trust_score, criteria, error, verified_at)
        VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt,
		record.ProofHash,
		record.Verified,
		record.TrustScore,
		string(criteria),
		record.Error,
		record.VerifiedAt,
	); err != nil {
		return fmt.Errorf("archive verification: %w", err)
	}
	return nil
}

// ListVerifications returns the newest outcomes for a proof hash.
func (s *SQLArchive) ListVerifications(ctx context.Context, proofHash string, limit int) ([]VerificationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT proof_hash, verified, trust_score, criteria, error, verified_at
        FROM verification_log WHERE proof_hash = ? ORDER BY id DESC LIMIT ?`, proofHash, limit)
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	defer rows.Close()

	var records []VerificationRecord
	for rows.Next() {
		var record VerificationRecord
		var criteriaRaw string
		var errText sql.NullString
		if err := rows.Scan(&record.ProofHash, &record.Verified, &record.TrustScore, &criteriaRaw, &errText, &record.VerifiedAt); err != nil {
			return nil, fmt.Errorf("scan verification record: %w", err)
		}
		if criteriaRaw != "" {
			if err := json.Unmarshal([]byte(criteriaRaw), &record.Criteria); err != nil {
				return nil, fmt.Errorf("decode criteria: %w", err)
			}
		}
		record.Error = errText.String
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verifications: %w", err)
	}
	return records, nil
}

// Close shuts the connection pool.
func (s *SQLArchive) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanProofRecord(scan func(dest ...any) error) (*ProofRecord, error) {
	var record ProofRecord
	var signalsRaw string
	var trustScore sql.NullFloat64

	if err := scan(
		&record.ProofHash,
		&record.CircuitID,
		&signalsRaw,
		&record.Blob,
		&record.CompressionRatio,
		&record.GenerationMs,
		&trustScore,
		&record.AnchorTx,
		&record.AnchorSlot,
		&record.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan proof record: %w", err)
	}
	if signalsRaw != "" {
		if err := json.Unmarshal([]byte(signalsRaw), &record.PublicSignals); err != nil {
			return nil, fmt.Errorf("decode public signals: %w", err)
		}
	}
	if trustScore.Valid {
		score := trustScore.Float64
		record.TrustScore = &score
	}
	return &record, nil
}

var (
	_ ProofArchive = (*FileArchive)(nil)
	_ ProofArchive = (*SQLArchive)(nil)
)
