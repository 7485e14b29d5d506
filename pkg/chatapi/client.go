package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"studychat/internal/errors"
	"studychat/internal/models"
	"studychat/internal/tracing"
	"studychat/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Client is the REST backend boundary consumed by the conversation
// session: history fetch, conversation resolution, outbound send and
// sender profile lookup.
type Client interface {
	FetchHistory(ctx context.Context, conversationID int64) ([]*models.Message, error)
	StartConversation(ctx context.Context, participantID string) (int64, error)
	SendMessage(ctx context.Context, req SendRequest) (*models.Message, error)
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
}

// SendRequest describes one outbound send: text plus at most one
// attachment, scoped by conversation.
type SendRequest struct {
	ConversationID int64
	Text           string
	AttachmentPath string
}

// ChatClient talks to the study-partner chat backend. A circuit
// breaker fronts every request so an unreachable backend fails fast
// instead of holding the send path on full timeouts.
type ChatClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	breaker   *circuitbreaker.Breaker
	logger    *logrus.Logger
}

type startConversationRequest struct {
	ParticipantID string `json:"participant_id"`
}

type startConversationResponse struct {
	ID int64 `json:"id"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// NewClient creates a backend client. A nil httpClient gets a default
// with a conservative timeout.
func NewClient(baseURL, authToken string, httpClient *http.Client, logger *logrus.Logger) *ChatClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	return &ChatClient{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		authToken: authToken,
		client:    httpClient,
		breaker:   circuitbreaker.New("chat-backend", 5, 30*time.Second, logger),
		logger:    logger,
	}
}

// doRequest executes one HTTP request through the breaker. Transport
// failures count against the breaker; HTTP error statuses do not, since
// a backend that answers 4xx is up.
func (c *ChatClient) doRequest(ctx context.Context, operation, endpoint string, req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var doErr error
		resp, doErr = c.client.Do(req)
		if doErr != nil {
			return c.transportError(ctx, operation, endpoint, doErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// FetchHistory returns the persisted messages of a conversation in
// server order, normalized into the domain model. A 404 is surfaced as
// the distinguished not-found error so the caller can attempt
// conversation creation instead of reporting a generic failure.
func (c *ChatClient) FetchHistory(ctx context.Context, conversationID int64) ([]*models.Message, error) {
	endpoint := fmt.Sprintf("%s/api/v1/conversations/%s/messages", c.baseURL, models.FormatConversationID(conversationID))

	ctx, span := tracing.StartSpan(ctx, "chatapi.FetchHistory",
		attribute.Int64("conversation.id", conversationID),
	)
	defer span.End()

	body, err := c.getJSON(ctx, "history", endpoint)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	var records []models.WireMessage
	if err := json.Unmarshal(body, &records); err != nil {
		err = errors.Wrap(err, errors.ErrCodeHistoryAPI, "failed to decode history response").
			WithContext("endpoint", endpoint)
		tracing.RecordError(ctx, err)
		return nil, err
	}

	messages := make([]*models.Message, 0, len(records))
	for i := range records {
		msg, err := records[i].ToMessage()
		if err != nil {
			// One malformed record should not sink the whole batch.
			c.logger.WithError(err).Warn("Skipping malformed history record")
			continue
		}
		messages = append(messages, msg)
	}

	span.SetAttributes(attribute.Int("history.count", len(messages)))
	return messages, nil
}

// StartConversation resolves (creating if necessary) the conversation
// with the given participant. The backend treats this as
// idempotent-in-effect: repeated calls for the same pair return the same
// id.
func (c *ChatClient) StartConversation(ctx context.Context, participantID string) (int64, error) {
	if participantID == "" {
		return 0, errors.New(errors.ErrCodeInvalidInput, "participant id is required")
	}

	endpoint := c.baseURL + "/api/v1/conversations"

	ctx, span := tracing.StartSpan(ctx, "chatapi.StartConversation")
	defer span.End()

	payload, err := json.Marshal(startConversationRequest{ParticipantID: participantID})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	resp, err := c.doRequest(ctx, "resolve", endpoint, req)
	if err != nil {
		tracing.RecordError(ctx, err)
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		err = c.statusError("resolve", endpoint, resp)
		tracing.RecordError(ctx, err)
		return 0, err
	}

	var result startConversationResponse
	if err := decodeJSONResponse(resp, &result); err != nil {
		err = errors.Wrap(err, errors.ErrCodeResolveAPI, "failed to decode conversation response").
			WithContext("endpoint", endpoint)
		tracing.RecordError(ctx, err)
		return 0, err
	}
	if result.ID == 0 {
		return 0, errors.New(errors.ErrCodeResolveAPI, "backend returned no conversation id")
	}

	span.SetAttributes(attribute.Int64("conversation.id", result.ID))
	return result.ID, nil
}

// SendMessage performs the outbound send and returns the authoritative
// persisted message, including its server-assigned id. Text-only sends
// go as JSON; an attachment switches the request to multipart.
func (c *ChatClient) SendMessage(ctx context.Context, req SendRequest) (*models.Message, error) {
	if req.ConversationID == 0 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "conversation id is required")
	}
	if req.Text == "" && req.AttachmentPath == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "message must have text or an attachment")
	}

	endpoint := fmt.Sprintf("%s/api/v1/conversations/%s/messages", c.baseURL, models.FormatConversationID(req.ConversationID))

	ctx, span := tracing.StartSpan(ctx, "chatapi.SendMessage",
		attribute.Int64("conversation.id", req.ConversationID),
		attribute.Bool("send.has_attachment", req.AttachmentPath != ""),
	)
	defer span.End()

	var httpReq *http.Request
	var err error
	if req.AttachmentPath != "" {
		httpReq, err = c.newMultipartSend(ctx, endpoint, req)
	} else {
		httpReq, err = c.newJSONSend(ctx, endpoint, req)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	c.setAuth(httpReq)

	resp, err := c.doRequest(ctx, "send", endpoint, httpReq)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		err = c.statusError("send", endpoint, resp)
		tracing.RecordError(ctx, err)
		return nil, err
	}

	var record models.WireMessage
	if err := decodeJSONResponse(resp, &record); err != nil {
		err = errors.Wrap(err, errors.ErrCodeSendAPI, "failed to decode send response").
			WithContext("endpoint", endpoint)
		tracing.RecordError(ctx, err)
		return nil, err
	}

	msg, err := record.ToMessage()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSendAPI, "malformed send acknowledgement")
	}
	return msg, nil
}

// GetProfile fetches the display identity of a user, used by the
// session's sender cache in group conversations.
func (c *ChatClient) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	endpoint := fmt.Sprintf("%s/api/v1/users/%s/profile", c.baseURL, url.PathEscape(userID))

	body, err := c.getJSON(ctx, "profile", endpoint)
	if err != nil {
		return nil, err
	}

	var profile models.Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeResolveAPI, "failed to decode profile response").
			WithContext("endpoint", endpoint)
	}
	if profile.UserID == "" {
		profile.UserID = userID
	}
	return &profile, nil
}

func (c *ChatClient) newJSONSend(ctx context.Context, endpoint string, req SendRequest) (*http.Request, error) {
	payload, err := json.Marshal(sendMessageRequest{Content: req.Text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

func (c *ChatClient) newMultipartSend(ctx context.Context, endpoint string, req SendRequest) (*http.Request, error) {
	file, err := os.Open(req.AttachmentPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open attachment: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(req.AttachmentPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to copy attachment content: %w", err)
	}
	if req.Text != "" {
		if err := writer.WriteField("content", req.Text); err != nil {
			return nil, fmt.Errorf("failed to write content field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	return httpReq, nil
}

// getJSON performs a GET and returns the raw body after status and
// content-type checks. A non-JSON content type where JSON was expected
// is reported as a fetch error rather than decoded blindly.
func (c *ChatClient) getJSON(ctx context.Context, operation, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.setAuth(req)

	resp, err := c.doRequest(ctx, operation, endpoint, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(operation, endpoint, resp)
	}

	if err := checkJSONContentType(resp); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeHistoryAPI, "unexpected response format").
			WithContext("endpoint", endpoint)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

func (c *ChatClient) setAuth(req *http.Request) {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

func (c *ChatClient) transportError(ctx context.Context, operation, endpoint string, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.NewTimeoutError(operation, err)
	}
	return errors.NewAPIError(operation, endpoint, 0, err)
}

func (c *ChatClient) statusError(operation, endpoint string, resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	c.logger.WithFields(logrus.Fields{
		"operation": operation,
		"status":    resp.StatusCode,
		"body":      string(bodyBytes),
	}).Debug("Backend returned error status")

	return errors.NewAPIError(operation, endpoint, resp.StatusCode,
		fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes))))
}

func checkJSONContentType(resp *http.Response) error {
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		return nil
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return fmt.Errorf("unparseable content type %q", ct)
	}
	if mediaType != "application/json" {
		return fmt.Errorf("expected application/json, got %q", mediaType)
	}
	return nil
}

func decodeJSONResponse(resp *http.Response, v interface{}) error {
	if err := checkJSONContentType(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
