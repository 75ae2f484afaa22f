// Package ibgateway talks to the IB gateway sidecar: order placement over
// its JSON REST surface and fills/order status over its websocket stream.
// The Gateway type adapts both onto the broker client port.
package ibgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/relay/internal/domain"
	"github.com/aristath/relay/internal/errs"
)

// Client is the REST client for the IB gateway sidecar.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
	apiKey  string
}

// ServiceResponse is the sidecar's standard response envelope.
type ServiceResponse struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *string         `json:"error"`
	Timestamp string          `json:"timestamp"`
}

// NewClient creates a gateway REST client.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("client", "ibgateway").Logger(),
	}
}

// SetAPIKey sets the API key sent with every request.
func (c *Client) SetAPIKey(key string) {
	c.apiKey = key
}

func (c *Client) post(ctx context.Context, endpoint string, request interface{}) (*ServiceResponse, error) {
	var body io.Reader
	if request != nil {
		b, err := json.Marshal(request)
		if err != nil {
			return nil, errs.Data("failed to marshal gateway request", err)
		}
		body = bytes.NewBuffer(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, body)
	if err != nil {
		return nil, errs.Connection("failed to create gateway request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Gateway-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errs.Connection("gateway request failed", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp)
}

func (c *Client) get(ctx context.Context, endpoint string) (*ServiceResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, errs.Connection("failed to create gateway request", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-Gateway-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errs.Connection("gateway request failed", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp)
}

func (c *Client) parseResponse(resp *http.Response) (*ServiceResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Connection("failed to read gateway response", err)
	}

	var result ServiceResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, errs.Data("failed to parse gateway response", err)
	}

	if !result.Success {
		errMsg := "unknown error"
		if result.Error != nil {
			errMsg = *result.Error
		}
		return &result, errs.Trading(fmt.Sprintf("gateway error: %s", errMsg), nil)
	}
	return &result, nil
}

// placeOrderRequest is the wire form of an order placement.
type placeOrderRequest struct {
	Symbol       string  `json:"symbol"`
	SecurityType string  `json:"security_type"`
	Action       string  `json:"action"`
	Quantity     float64 `json:"quantity"`
	OrderType    string  `json:"order_type"`
	LimitPrice   float64 `json:"limit_price,omitempty"`
	StopPrice    float64 `json:"stop_price,omitempty"`
	TIF          string  `json:"tif,omitempty"`
	OutsideRTH   bool    `json:"outside_rth,omitempty"`
	ClientRef    string  `json:"client_ref,omitempty"`
}

type placeOrderResult struct {
	OrderID string `json:"order_id"`
}

// PlaceOrder submits an order and returns the broker-assigned id.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	wire := placeOrderRequest{
		Symbol:       req.Instrument.Symbol,
		SecurityType: string(req.Instrument.Type),
		Action:       string(req.Action),
		Quantity:     req.Quantity,
		OrderType:    string(req.Type),
		LimitPrice:   req.LimitPrice,
		StopPrice:    req.StopPrice,
		TIF:          string(req.TIF),
		OutsideRTH:   req.OutsideRTH,
		ClientRef:    req.ClientRef,
	}

	resp, err := c.post(ctx, "/v1/orders", wire)
	if err != nil {
		return "", err
	}

	var result placeOrderResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return "", errs.Data("failed to parse order result", err)
	}
	if result.OrderID == "" {
		return "", errs.Trading("gateway returned no order id", nil)
	}
	return result.OrderID, nil
}

// CancelOrder requests cancellation of a working order.
func (c *Client) CancelOrder(ctx context.Context, brokerOrderID string) error {
	_, err := c.post(ctx, "/v1/orders/"+brokerOrderID+"/cancel", nil)
	return err
}

// ModifyOrder applies field deltas to a working order.
func (c *Client) ModifyOrder(ctx context.Context, brokerOrderID string, changes domain.OrderChanges) error {
	_, err := c.post(ctx, "/v1/orders/"+brokerOrderID+"/modify", changes)
	return err
}

type orderStateResult struct {
	OrderID      string  `json:"order_id"`
	Status       string  `json:"status"`
	FilledQty    float64 `json:"filled_qty"`
	RemainingQty float64 `json:"remaining_qty"`
	AvgFillPrice float64 `json:"avg_fill_price"`
}

// QueryOrder returns the gateway's view of an order.
func (c *Client) QueryOrder(ctx context.Context, brokerOrderID string) (*domain.BrokerOrderState, error) {
	resp, err := c.get(ctx, "/v1/orders/"+brokerOrderID)
	if err != nil {
		return nil, err
	}

	var result orderStateResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, errs.Data("failed to parse order state", err)
	}
	return &domain.BrokerOrderState{
		BrokerOrderID: result.OrderID,
		Status:        domain.OrderStatus(result.Status),
		FilledQty:     result.FilledQty,
		RemainingQty:  result.RemainingQty,
		AvgFillPrice:  result.AvgFillPrice,
	}, nil
}

type positionResult struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	AvgCost  float64 `json:"avg_cost"`
}

// QueryPosition returns the broker's view of a position.
func (c *Client) QueryPosition(ctx context.Context, instrument domain.Instrument) (*domain.Position, error) {
	resp, err := c.get(ctx, "/v1/positions/"+instrument.Symbol)
	if err != nil {
		return nil, err
	}

	var result positionResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, errs.Data("failed to parse position", err)
	}
	return &domain.Position{
		Instrument: instrument,
		Quantity:   result.Quantity,
		AvgCost:    result.AvgCost,
	}, nil
}

type lastPriceResult struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// LastPrice returns the most recent trade or mark price.
func (c *Client) LastPrice(ctx context.Context, instrument domain.Instrument) (float64, error) {
	resp, err := c.get(ctx, "/v1/marketdata/"+instrument.Symbol+"/last")
	if err != nil {
		return 0, err
	}

	var result lastPriceResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return 0, errs.Data("failed to parse last price", err)
	}
	if result.Price <= 0 {
		return 0, errs.Data("gateway returned non-positive price", nil)
	}
	return result.Price, nil
}

// healthResult is the /health payload. The endpoint returns plain JSON, not
// the standard envelope.
type healthResult struct {
	Status      string `json:"status"`
	IBConnected bool   `json:"ib_connected"`
}

// HealthCheck reports whether the sidecar is up and connected to IB.
// Unreachable means not connected, never an error.
func (c *Client) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Msg("gateway health endpoint unreachable")
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false
	}
	var health healthResult
	if err := json.Unmarshal(body, &health); err != nil {
		return false
	}
	return health.IBConnected
}
