package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"medrag/types"
)

const defaultChatURL = "https://api.openai.com/v1/chat/completions"

const systemPrompt = `You are an assistant answering questions about uploaded documents.
Answer clearly and to the point, using only the provided context.
If the context is empty or does not contain the answer, say 'No information for this request.'
Don't add introductions like 'Of course!' or 'Here's the answer:'`

// Agent generates answers grounded in retrieved chunks. Generation is
// deterministic: temperature is pinned to zero.
type Agent struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type ChatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
}

func New() *Agent {
	url := os.Getenv("LLM_URL")
	if url == "" {
		url = defaultChatURL
	}
	model := os.Getenv("LLM_MODEL")
	if model == "" {
		model = "gpt-3.5-turbo"
	}
	return &Agent{
		url:    url,
		apiKey: os.Getenv("OPENAI_API_KEY"),
		model:  model,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

// Answer asks the model the question with the retrieved records as grounding
// context.
func (a *Agent) Answer(ctx context.Context, question string, records []types.ScoredRecord) (string, error) {
	if a.apiKey == "" {
		return "", fmt.Errorf("OPENAI_API_KEY is not set")
	}

	prompt := buildPrompt(records, question)

	if count, err := CountTokens(a.model, systemPrompt+prompt); err == nil {
		fmt.Printf("Size of prompt with system in tokens: %d\n", count)
	}

	reqBody, err := json.Marshal(ChatRequest{
		Model: a.model,
		Messages: []ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.0,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("llm error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}
	return chatResp.Choices[0].Message.Content, nil
}

func buildPrompt(records []types.ScoredRecord, question string) string {
	var sb strings.Builder
	for i, rec := range records {
		sb.WriteString(fmt.Sprintf("[%d] %s\n", i+1, rec.Content))
	}
	contextBlock := sb.String()
	if contextBlock == "" {
		contextBlock = "empty"
	}

	return fmt.Sprintf(`Answer the question based on the given context. If there is no information in the provided context or the context is empty then answer 'No information for this request'. Nothing else.
Context:
%s
Question:
%s
Answer:`, contextBlock, question)
}

// CountTokens reports the token footprint of a prompt for the given model.
func CountTokens(model, data string) (int, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return 0, err
		}
	}
	tokens := enc.Encode(data, nil, nil)
	return len(tokens), nil
}
