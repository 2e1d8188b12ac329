// Command examples demonstrates the zkcipher SDK against a stub API server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"ZKCipherAI/sdk/go/zkcipher"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/proofs", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(zkcipher.ProofHandle{
			ProofHash: "demo-hash",
			CircuitID: "encryption_v1",
			CreatedAt: time.Now().UnixMilli(),
		})
	})
	mux.HandleFunc("POST /api/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(zkcipher.Job{ID: "job-demo", Status: "pending"})
	})
	mux.HandleFunc("GET /api/v1/jobs/job-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(zkcipher.Job{
			ID:     "job-demo",
			Status: "succeeded",
			Result: &zkcipher.JobResult{ProofHash: "demo-hash", TrustScore: 0.95},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := zkcipher.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	handle, err := client.GenerateProof(ctx, zkcipher.GenerateRequest{
		CircuitID: "encryption_v1",
		Subject: map[string]any{
			"dataId":           "records-7",
			"encryptionScheme": "aes-256-gcm",
		},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("generated proof %s\n", handle.ProofHash)

	job, err := client.SubmitJob(ctx, zkcipher.JobSubmission{
		CircuitID: "inference_v1",
		Subject:   map[string]any{"modelId": "resnet-50", "inputHash": "abc123"},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted job %s (status=%s)\n", job.ID, job.Status)

	done, err := client.WaitForJob(ctx, job.ID, 50*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("job finished with trust score %.2f\n", done.Result.TrustScore)
}
