package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ticket-sync-engine/internal/model"
)

const defaultRequestTimeout = 15 * time.Second

// HTTPGateway talks to the messaging-gateway REST surface. Every request
// carries a bounded timeout so a hung call cannot stall the refresh cadence.
type HTTPGateway struct {
	baseURL    string
	token      func() string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewHTTPGateway(baseURL string, token func() string, log zerolog.Logger) *HTTPGateway {
	if token == nil {
		token = func() string { return "" }
	}
	return &HTTPGateway{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		log:        log.With().Str("component", "gateway").Logger(),
	}
}

type apiError struct {
	Message string `json:"message"`
}

func (g *HTTPGateway) doRequest(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return NewError(ErrorCodeInternal, "failed to encode request body", err)
		}
		reader = bytes.NewReader(payload)
	}

	endpoint := g.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return NewError(ErrorCodeInternal, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if tok := g.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return NewError(ErrorCodeTimeout, "request timed out", err)
		}
		return NewError(ErrorCodeTimeout, "connection failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return g.errorFromResponse(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewError(ErrorCodeInternal, "failed to decode response", err)
	}
	return nil
}

func (g *HTTPGateway) errorFromResponse(resp *http.Response) error {
	var payload apiError
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	message := payload.Message
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	cause := fmt.Errorf("gateway: %s %s: status %d", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return NewError(ErrorCodeUnauthorized, message, cause)
	case http.StatusForbidden:
		return NewError(ErrorCodeForbidden, message, cause)
	case http.StatusNotFound, http.StatusNotImplemented:
		return NewError(ErrorCodeNotFound, message, cause)
	case http.StatusConflict:
		return NewError(ErrorCodeConflict, message, cause)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return NewError(ErrorCodeValidation, message, cause)
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return NewError(ErrorCodeTimeout, message, cause)
	default:
		return NewError(ErrorCodeInternal, message, cause)
	}
}

// featureError reinterprets a missing endpoint as a missing feature. Only
// the canned-reply routes use it: for those, 404 means the installation does
// not ship the feature at all.
func featureError(err error) error {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Code == ErrorCodeNotFound {
		return NewError(ErrorCodeFeatureNotFound, "canned replies are not supported by this server", apiErr)
	}
	return err
}

func (g *HTTPGateway) ListConversations(ctx context.Context, filter model.ConversationFilter) ([]model.Conversation, error) {
	query := url.Values{}
	if filter != "" {
		query.Set("filter", string(filter))
	}
	var out struct {
		Conversations []model.Conversation `json:"conversations"`
	}
	if err := g.doRequest(ctx, http.MethodGet, "/api/v1/conversations", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

func (g *HTTPGateway) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Messages []model.Message `json:"messages"`
	}
	path := "/api/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := g.doRequest(ctx, http.MethodGet, path, query, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (g *HTTPGateway) SendMessage(ctx context.Context, conversationID, content, replyToID string) (model.Message, error) {
	body := map[string]string{"content": content}
	if replyToID != "" {
		body["replyToId"] = replyToID
	}
	var out struct {
		Message model.Message `json:"message"`
	}
	path := "/api/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := g.doRequest(ctx, http.MethodPost, path, nil, body, &out); err != nil {
		return model.Message{}, err
	}
	return out.Message, nil
}

func (g *HTTPGateway) SetConversationStatus(ctx context.Context, conversationID string, status model.ConversationStatus) error {
	body := map[string]string{"status": string(status)}
	path := "/api/v1/conversations/" + url.PathEscape(conversationID) + "/status"
	return g.doRequest(ctx, http.MethodPut, path, nil, body, nil)
}

func (g *HTTPGateway) MarkRead(ctx context.Context, conversationID string) error {
	path := "/api/v1/conversations/" + url.PathEscape(conversationID) + "/read"
	return g.doRequest(ctx, http.MethodPost, path, nil, nil, nil)
}

func (g *HTTPGateway) GetConnectionState(ctx context.Context) (ConnectionState, error) {
	var out ConnectionState
	if err := g.doRequest(ctx, http.MethodGet, "/api/v1/connection", nil, nil, &out); err != nil {
		return ConnectionState{}, err
	}
	return out, nil
}

func (g *HTTPGateway) ListCannedReplies(ctx context.Context) ([]model.CannedReply, error) {
	var out struct {
		Replies []model.CannedReply `json:"replies"`
	}
	if err := g.doRequest(ctx, http.MethodGet, "/api/v1/canned-replies", nil, nil, &out); err != nil {
		return nil, featureError(err)
	}
	return out.Replies, nil
}

func (g *HTTPGateway) CreateCannedReply(ctx context.Context, reply model.CannedReply) (model.CannedReply, error) {
	var out struct {
		Reply model.CannedReply `json:"reply"`
	}
	if err := g.doRequest(ctx, http.MethodPost, "/api/v1/canned-replies", nil, reply, &out); err != nil {
		return model.CannedReply{}, featureError(err)
	}
	return out.Reply, nil
}

func (g *HTTPGateway) UpdateCannedReply(ctx context.Context, reply model.CannedReply) (model.CannedReply, error) {
	var out struct {
		Reply model.CannedReply `json:"reply"`
	}
	path := "/api/v1/canned-replies/" + strconv.FormatInt(reply.ID, 10)
	if err := g.doRequest(ctx, http.MethodPut, path, nil, reply, &out); err != nil {
		return model.CannedReply{}, featureError(err)
	}
	return out.Reply, nil
}

func (g *HTTPGateway) DeleteCannedReply(ctx context.Context, id int64) error {
	path := "/api/v1/canned-replies/" + strconv.FormatInt(id, 10)
	if err := g.doRequest(ctx, http.MethodDelete, path, nil, nil, nil); err != nil {
		return featureError(err)
	}
	return nil
}

func (g *HTTPGateway) ResolveIdentityAvatar(ctx context.Context, identity string, forceRefresh bool) (AvatarResult, error) {
	query := url.Values{}
	query.Set("identity", identity)
	if forceRefresh {
		query.Set("forceRefresh", "true")
	}
	var out AvatarResult
	if err := g.doRequest(ctx, http.MethodGet, "/api/v1/avatars", query, nil, &out); err != nil {
		return AvatarResult{}, err
	}
	return out, nil
}

var _ Gateway = (*HTTPGateway)(nil)
