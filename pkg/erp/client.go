// Package erp is the boundary to the external ERP that owns bonus balances,
// personal discounts and purchase history.
package erp

//go:generate mockgen -source=client.go -destination=erpmock/client.go -package=erpmock

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"retail-loyalty/pkg/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("erp",
	fx.Provide(NewClient),
)

const dateLayout = "2006-01-02T15:04:05"

type Operation string

const (
	OperationAdd      Operation = "add"
	OperationWriteOff Operation = "write-off"
)

func (o Operation) Valid() bool {
	return o == OperationAdd || o == OperationWriteOff
}

type ClientInfo struct {
	BonusAmount      float64 `json:"bonusAmount"`
	PersonalDiscount float64 `json:"personalDiscount"`
	PurchasesAmount  float64 `json:"purchasesAmount"`
	PurchasesCount   int     `json:"purchasesCount"`
}

type BonusUpdate struct {
	Phone     string
	Amount    float64
	Operation Operation
	Date      time.Time
	Comment   string
	WithDelay bool
}

// Client is the ledger adapter. GetClientInfo returns (nil, nil) for a phone
// the ERP does not know.
type Client interface {
	GetClientInfo(ctx context.Context, phone string) (*ClientInfo, error)
	UpdateDiscount(ctx context.Context, phone string, percent float64) error
	UpdateBonus(ctx context.Context, req BonusUpdate) error
}

var ErrLedger = errors.New("erp ledger call failed")

type LedgerError struct {
	Op     string
	Status int
	Err    error
}

func (e *LedgerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("erp %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("erp %s: status %d", e.Op, e.Status)
}

func (e *LedgerError) Is(target error) bool { return target == ErrLedger }

func (e *LedgerError) Unwrap() error { return e.Err }

type restyClient struct {
	http *resty.Client
}

func NewClient(cfg *config.Config) Client {
	return NewRestyClient(cfg.ERP.BaseURL, cfg.ERP.Token, cfg.ERP.Timeout)
}

func NewRestyClient(baseURL, token string, timeout time.Duration) Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &restyClient{http: c}
}

type discountRequest struct {
	Phone    string  `json:"phone"`
	Discount float64 `json:"discount"`
}

type bonusRequest struct {
	Phone     string  `json:"phone"`
	Amount    float64 `json:"amount"`
	Operation string  `json:"operation"`
	Date      string  `json:"date"`
	Comment   string  `json:"comment,omitempty"`
	WithDelay bool    `json:"withDelay"`
}

func (c *restyClient) GetClientInfo(ctx context.Context, phone string) (*ClientInfo, error) {
	var info ClientInfo
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("phone", phone).
		SetResult(&info).
		Get("/clients/{phone}")
	if err != nil {
		return nil, &LedgerError{Op: "get_client_info", Err: err}
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, &LedgerError{Op: "get_client_info", Status: resp.StatusCode()}
	}
	return &info, nil
}

func (c *restyClient) UpdateDiscount(ctx context.Context, phone string, percent float64) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(discountRequest{Phone: phone, Discount: percent}).
		Post("/clients/discount")
	return checkResponse("update_discount", resp, err)
}

func (c *restyClient) UpdateBonus(ctx context.Context, req BonusUpdate) error {
	if !req.Operation.Valid() {
		return fmt.Errorf("erp update_bonus: invalid operation %q", req.Operation)
	}

	date := req.Date
	if date.IsZero() {
		date = time.Now()
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(bonusRequest{
			Phone:     req.Phone,
			Amount:    req.Amount,
			Operation: string(req.Operation),
			Date:      date.Format(dateLayout),
			Comment:   req.Comment,
			WithDelay: req.WithDelay,
		}).
		Post("/clients/bonus")
	return checkResponse("update_bonus", resp, err)
}

func checkResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		zap.L().Warn("erp call failed", zap.String("op", op), zap.Error(err))
		return &LedgerError{Op: op, Err: err}
	}
	if resp.IsError() {
		zap.L().Warn("erp call rejected", zap.String("op", op), zap.Int("status", resp.StatusCode()))
		return &LedgerError{Op: op, Status: resp.StatusCode()}
	}
	return nil
}
