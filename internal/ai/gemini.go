package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/estudemais/estude-mais/internal/chat"
	"github.com/estudemais/estude-mais/internal/models"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// DefaultModel is the generation model used for every operation.
const DefaultModel = "gemini-2.5-flash"

// GeminiClient calls the Google AI Studio (Gemini) API. The credential is
// resolved per call so a key entered mid-session takes effect without
// rebuilding the client.
type GeminiClient struct {
	explicitKey string
	stored      KeySource
	model       string
	baseURL     string
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewGeminiClient constructs a client. apiKey may be empty; the persisted
// and environment credentials are consulted at call time.
func NewGeminiClient(apiKey string, stored KeySource, model string, logger *zap.Logger) *GeminiClient {
	if model == "" {
		model = DefaultModel
	}
	return &GeminiClient{
		explicitKey: strings.TrimSpace(apiKey),
		stored:      stored,
		model:       model,
		baseURL:     defaultGeminiBaseURL,
		// No client timeout: answer streams are long-lived and requests
		// are bounded by their context.
		httpClient: &http.Client{},
		logger:     logger,
	}
}

func (c *GeminiClient) StreamAnswer(ctx context.Context, question string, files []models.StoredFile, history []models.Message) (chat.FragmentStream, error) {
	key, err := ResolveAPIKey(c.explicitKey, c.stored)
	if err != nil {
		return nil, err
	}

	reqBody := generateRequest{
		Contents: []content{{
			Parts: buildParts(files, renderPrompt(question, history)),
		}},
		SystemInstruction: &content{
			Parts: []part{{Text: tutorSystemInstruction}},
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", c.baseURL, c.model, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini api error: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return &geminiStream{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

func (c *GeminiClient) GenerateFlashcards(ctx context.Context, files []models.StoredFile) ([]models.Flashcard, error) {
	reqBody := generateRequest{
		Contents: []content{{
			Parts: buildParts(files, flashcardsPrompt),
		}},
		SystemInstruction: &content{
			Parts: []part{{Text: flashcardsSystemInstruction}},
		},
		GenerationConfig: &generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema: &schema{
				Type: "ARRAY",
				Items: &schema{
					Type: "OBJECT",
					Properties: map[string]*schema{
						"question": {Type: "STRING"},
						"answer":   {Type: "STRING"},
					},
					Required: []string{"question", "answer"},
				},
			},
		},
	}

	text, err := c.generate(ctx, reqBody)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return []models.Flashcard{}, nil
	}

	var cards []models.Flashcard
	if err := json.Unmarshal([]byte(text), &cards); err != nil {
		return nil, fmt.Errorf("error decoding flashcards: %w", err)
	}
	return cards, nil
}

func (c *GeminiClient) AnalyzeNotice(ctx context.Context, file models.StoredFile) (string, error) {
	reqBody := generateRequest{
		Contents: []content{{
			Parts: buildParts([]models.StoredFile{file}, edictPrompt),
		}},
		SystemInstruction: &content{
			Parts: []part{{Text: edictSystemInstruction}},
		},
	}

	text, err := c.generate(ctx, reqBody)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return AnalysisFallback, nil
	}
	return text, nil
}

// generate performs a single non-streaming call and returns the joined
// candidate text, which may be empty.
func (c *GeminiClient) generate(ctx context.Context, reqBody generateRequest) (string, error) {
	key, err := ResolveAPIKey(c.explicitKey, c.stored)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini api error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", decodeAPIError(resp)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("error decoding gemini response: %w", err)
	}
	return out.text(), nil
}

// buildParts lays out the wire contract: zero or more inline attachments
// followed by exactly one text part.
func buildParts(files []models.StoredFile, text string) []part {
	parts := make([]part, 0, len(files)+1)
	for _, file := range files {
		data := rawBase64(file.Data)
		if data == "" {
			continue
		}
		parts = append(parts, part{
			InlineData: &inlineData{
				MimeType: file.MimeType,
				Data:     data,
			},
		})
	}
	parts = append(parts, part{Text: text})
	return parts
}

// rawBase64 strips the self-describing data-URL prefix, if present.
func rawBase64(data string) string {
	if i := strings.Index(data, ","); i >= 0 {
		return data[i+1:]
	}
	return data
}

func decodeAPIError(resp *http.Response) error {
	var apiErr errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&apiErr)
	message := apiErr.Error.Message
	if message == "" {
		message = resp.Status
	}
	if err := classifyUpstream(message); err != nil {
		return err
	}
	return fmt.Errorf("gemini api error: %s", message)
}

// geminiStream reads server-sent events from streamGenerateContent one
// fragment at a time.
type geminiStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

func (s *geminiStream) Recv() (string, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.body.Close()
			if err == io.EOF {
				return "", io.EOF
			}
			return "", fmt.Errorf("gemini stream error: %w", err)
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk generateResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			s.body.Close()
			return "", fmt.Errorf("gemini stream error: %w", err)
		}
		if text := chunk.text(); text != "" {
			return text, nil
		}
	}
}

func (s *geminiStream) Close() error {
	return s.body.Close()
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type schema struct {
	Type       string             `json:"type"`
	Items      *schema            `json:"items,omitempty"`
	Properties map[string]*schema `json:"properties,omitempty"`
	Required   []string           `json:"required,omitempty"`
}

type generationConfig struct {
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
	ResponseSchema   *schema `json:"responseSchema,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (r generateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
