package datatypes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

type EmbeddingRequest struct {
	Text string `json:"text"`
}

type EmbeddingResponse struct {
	Id        string    `json:"id"`
	Timestamp int       `json:"timestamp"`
	Text      string    `json:"text"`
	Vector    []float32 `json:"vector"`
	Dim       int       `json:"dim"`
}

type BatchEmbeddingRequest struct {
	Texts []string `json:"texts"`
}

type BatchEmbeddingResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

// PassageProperties are the properties stored on every indexed clinical
// passage, for both the shared corpus class and the per-patient classes.
type PassageProperties struct {
	Content   string `json:"content"`
	Source    string `json:"source"`
	PatientId string `json:"patient_id"`
	Timestamp int64  `json:"timestamp"`
}

// ToMap converts PassageProperties to the map format required by Weaviate's
// WithProperties() method.
func (p *PassageProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"content":    p.Content,
		"source":     p.Source,
		"patient_id": p.PatientId,
		"timestamp":  p.Timestamp,
	}
}

var httpClient = &http.Client{
	Timeout: 30 * time.Second,
}

func (e *EmbeddingResponse) Get(text string) error {
	return e.GetWithContext(context.Background(), text)
}

// GetWithContext embeds a single text, honoring the caller's context for
// cancellation and timeout.
func (e *EmbeddingResponse) GetWithContext(ctx context.Context, text string) error {
	embeddingServiceURL := os.Getenv("EMBEDDING_SERVICE_URL")
	embReq := EmbeddingRequest{Text: text}
	reqBody, err := json.Marshal(embReq)
	if err != nil {
		return fmt.Errorf("failed to marshal the input text and send it to the /embed"+
			" endpoint: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, embeddingServiceURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to setup a new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make the request to the embedding service: %w", err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			log.Println("Failed to close out the body on func close")
		}
	}(resp.Body)

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("the response was not a 200 OK from the embedding service: %s, "+
			"%d", string(bodyBytes), resp.StatusCode)
	}

	if err := json.Unmarshal(bodyBytes, &e); err != nil {
		return fmt.Errorf("failed to parse the response from the embedding service %w", err)
	}
	return nil
}

// GetBatch embeds a slice of texts in one round trip. The embedding service
// must return one vector per input text, in order.
func (b *BatchEmbeddingResponse) GetBatch(texts []string) error {
	embeddingServiceURL := os.Getenv("EMBEDDING_SERVICE_URL")
	reqBody, err := json.Marshal(BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		return fmt.Errorf("failed to marshal the batch embedding request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, embeddingServiceURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to setup a new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make the request to the embedding service: %w", err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			log.Println("Failed to close out the body on func close")
		}
	}(resp.Body)

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("the response was not a 200 OK from the embedding service: %s, "+
			"%d", string(bodyBytes), resp.StatusCode)
	}

	if err := json.Unmarshal(bodyBytes, &b); err != nil {
		return fmt.Errorf("failed to parse the response from the embedding service %w", err)
	}
	if len(b.Vectors) != len(texts) {
		return fmt.Errorf("embedding service returned %d vectors for %d texts",
			len(b.Vectors), len(texts))
	}
	return nil
}
