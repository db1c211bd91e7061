// Package odoorpc implements remote.Gateway against the ERP's legacy
// JSON-RPC endpoint (POST /jsonrpc, "call" envelope, common.login plus
// object.execute_kw).
package odoorpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"calbridge/internal/domain"
	"calbridge/internal/remote"
)

// remoteTimeLayout is the ERP's textual datetime format. All values are
// UTC. This package is the only producer and consumer of this format.
const remoteTimeLayout = "2006-01-02 15:04:05"

func formatRemoteTime(t time.Time) string {
	return t.UTC().Format(remoteTimeLayout)
}

func parseRemoteTime(s string) (time.Time, error) {
	return time.ParseInLocation(remoteTimeLayout, s, time.UTC)
}

const (
	modelAppointment = "calendar.event"
	modelResource    = "resource.resource"
	modelAttendance  = "resource.calendar.attendance"
	modelCategory    = "calendar.event.type"
	modelCustomer    = "res.partner"
)

type Config struct {
	BaseURL  string
	Database string
	Login    string
	APIKey   string

	// Timeout bounds each round trip when the caller's ctx carries no
	// deadline.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

var _ remote.Gateway = (*Client)(nil)

type Client struct {
	baseURL  string
	database string
	login    string
	apiKey   string

	http *http.Client
	log  *slog.Logger

	mu  sync.Mutex // guards uid
	uid int64      // 0 until authenticated

	// customerMu serializes find-or-create so one logical booking cannot
	// race itself into duplicate customer records.
	customerMu sync.Mutex

	reqID int64
	idMu  sync.Mutex
}

func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		database: cfg.Database,
		login:    cfg.Login,
		apiKey:   cfg.APIKey,
		http:     httpClient,
		log:      log.With(slog.String("component", "remote.odoorpc")),
	}
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"data"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) nextID() int64 {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	c.reqID++
	return c.reqID
}

// call performs one JSON-RPC round trip. Transport and protocol failures
// come back as *remote.UnavailableError; application faults are left to
// the caller to classify.
func (c *Client) call(ctx context.Context, op, service, method string, args []any) (json.RawMessage, *rpcError, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: service, Method: method, Args: args},
		ID:      c.nextID(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("encode rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jsonrpc", bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, &remote.UnavailableError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, &remote.UnavailableError{Op: op, Err: fmt.Errorf("http status %d", resp.StatusCode)}
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, nil, &remote.UnavailableError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return out.Result, out.Error, nil
}

// Authenticate logs in via common.login and caches the uid for the client
// lifetime. Safe to call repeatedly and from multiple goroutines.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uid != 0 {
		return nil
	}

	result, rpcErr, err := c.call(ctx, "authenticate", "common", "login",
		[]any{c.database, c.login, c.apiKey})
	if err != nil {
		return err
	}
	if rpcErr != nil {
		return &remote.AuthError{Reason: rpcErr.Message}
	}

	var uid int64
	if err := json.Unmarshal(result, &uid); err != nil || uid == 0 {
		// The endpoint reports bad credentials as result=false.
		return &remote.AuthError{Reason: "credentials rejected"}
	}

	c.uid = uid
	c.log.Debug("authenticated", slog.Int64("uid", uid))
	return nil
}

func (c *Client) currentUID(ctx context.Context) (int64, error) {
	if err := c.Authenticate(ctx); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uid, nil
}

// executeKw runs object.execute_kw against a model.
func (c *Client) executeKw(ctx context.Context, op, model, method string, args []any, kw map[string]any) (json.RawMessage, error) {
	uid, err := c.currentUID(ctx)
	if err != nil {
		return nil, err
	}
	if kw == nil {
		kw = map[string]any{}
	}

	result, rpcErr, err := c.call(ctx, op, "object", "execute_kw",
		[]any{c.database, uid, c.apiKey, model, method, args, kw})
	if err != nil {
		return nil, err
	}
	if rpcErr != nil {
		if rpcErr.Data.Name == "odoo.exceptions.AccessDenied" {
			return nil, &remote.AuthError{Reason: rpcErr.Message}
		}
		return nil, &remote.UnavailableError{Op: op, Err: fmt.Errorf("rpc fault: %s", rpcErr.Message)}
	}
	return result, nil
}

// falsyString decodes the endpoint's habit of reporting empty fields as
// the JSON literal false.
type falsyString string

func (s *falsyString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("false")) {
		*s = ""
		return nil
	}
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*s = falsyString(v)
	return nil
}

// many2One decodes a relational field: either false or [id, "display"].
type many2One struct {
	ID   int64
	Name string
}

func (m *many2One) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("false")) {
		*m = many2One{}
		return nil
	}
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) > 0 {
		if err := json.Unmarshal(pair[0], &m.ID); err != nil {
			return err
		}
	}
	if len(pair) > 1 {
		var name string
		if err := json.Unmarshal(pair[1], &name); err == nil {
			m.Name = name
		}
	}
	return nil
}

func (m many2One) ref() *int64 {
	if m.ID == 0 {
		return nil
	}
	id := m.ID
	return &id
}

type appointmentRecord struct {
	ID           int64       `json:"id"`
	Name         falsyString `json:"name"`
	Start        falsyString `json:"start"`
	Stop         falsyString `json:"stop"`
	ResourceID   many2One    `json:"resource_id"`
	PartnerID    many2One    `json:"partner_id"`
	PartnerEmail falsyString `json:"partner_email"`
	PartnerPhone falsyString `json:"partner_phone"`
	CategoryID   many2One    `json:"categ_id"`
	Description  falsyString `json:"description"`
	Price        float64     `json:"price"`
}

func (c *Client) FetchAppointments(ctx context.Context, start, end time.Time) ([]remote.Appointment, error) {
	domainFilter := []any{
		[]any{"start", ">=", formatRemoteTime(start)},
		[]any{"start", "<=", formatRemoteTime(end)},
	}
	fields := []string{"name", "start", "stop", "resource_id", "partner_id",
		"partner_email", "partner_phone", "categ_id", "description", "price"}

	result, err := c.executeKw(ctx, "fetch appointments", modelAppointment, "search_read",
		[]any{domainFilter}, map[string]any{"fields": fields})
	if err != nil {
		return nil, err
	}

	var records []appointmentRecord
	if err := json.Unmarshal(result, &records); err != nil {
		return nil, &remote.UnavailableError{Op: "fetch appointments", Err: fmt.Errorf("decode records: %w", err)}
	}

	out := make([]remote.Appointment, 0, len(records))
	for _, r := range records {
		startAt, err := parseRemoteTime(string(r.Start))
		if err != nil {
			c.log.Warn("skipping appointment with malformed start",
				slog.Int64("remote_id", r.ID), slog.Any("err", err))
			continue
		}
		endAt, err := parseRemoteTime(string(r.Stop))
		if err != nil {
			c.log.Warn("skipping appointment with malformed stop",
				slog.Int64("remote_id", r.ID), slog.Any("err", err))
			continue
		}

		var price decimal.NullDecimal
		if r.Price != 0 {
			price = decimal.NewNullDecimal(decimal.NewFromFloat(r.Price))
		}

		out = append(out, remote.Appointment{
			ID:            r.ID,
			Label:         string(r.Name),
			Start:         startAt,
			End:           endAt,
			ResourceID:    r.ResourceID.ref(),
			CustomerName:  r.PartnerID.Name,
			CustomerEmail: string(r.PartnerEmail),
			CustomerPhone: string(r.PartnerPhone),
			CategoryID:    r.CategoryID.ref(),
			Price:         price,
			Notes:         string(r.Description),
		})
	}
	return out, nil
}

type resourceRecord struct {
	ID         int64       `json:"id"`
	Name       falsyString `json:"name"`
	Email      falsyString `json:"email"`
	Phone      falsyString `json:"phone"`
	Active     bool        `json:"active"`
	Color      falsyString `json:"color_code"`
	CalendarID many2One    `json:"calendar_id"`
}

func (c *Client) FetchResources(ctx context.Context) ([]remote.Resource, error) {
	fields := []string{"name", "email", "phone", "active", "color_code", "calendar_id"}

	result, err := c.executeKw(ctx, "fetch resources", modelResource, "search_read",
		[]any{[]any{}}, map[string]any{"fields": fields})
	if err != nil {
		return nil, err
	}

	var records []resourceRecord
	if err := json.Unmarshal(result, &records); err != nil {
		return nil, &remote.UnavailableError{Op: "fetch resources", Err: fmt.Errorf("decode records: %w", err)}
	}

	out := make([]remote.Resource, 0, len(records))
	for _, r := range records {
		out = append(out, remote.Resource{
			ID:         r.ID,
			Name:       string(r.Name),
			Email:      string(r.Email),
			Phone:      string(r.Phone),
			Active:     r.Active,
			Color:      string(r.Color),
			CalendarID: r.CalendarID.ref(),
		})
	}
	return out, nil
}

type attendanceRecord struct {
	DayOfWeek falsyString `json:"dayofweek"` // "0".."6", Monday=0
	HourFrom  float64     `json:"hour_from"`
	HourTo    float64     `json:"hour_to"`
	Name      falsyString `json:"name"`
}

func (c *Client) FetchResourceCalendar(ctx context.Context, calendarID int64) (domain.Schedule, error) {
	domainFilter := []any{[]any{"calendar_id", "=", calendarID}}
	fields := []string{"dayofweek", "hour_from", "hour_to", "name"}

	result, err := c.executeKw(ctx, "fetch resource calendar", modelAttendance, "search_read",
		[]any{domainFilter}, map[string]any{"fields": fields})
	if err != nil {
		return nil, err
	}

	var records []attendanceRecord
	if err := json.Unmarshal(result, &records); err != nil {
		return nil, &remote.UnavailableError{Op: "fetch resource calendar", Err: fmt.Errorf("decode records: %w", err)}
	}

	schedule := make(domain.Schedule, 0, len(records))
	for _, r := range records {
		day, err := strconv.Atoi(string(r.DayOfWeek))
		if err != nil || day < 0 || day > 6 {
			c.log.Warn("skipping attendance with malformed dayofweek",
				slog.Int64("calendar_id", calendarID), slog.String("dayofweek", string(r.DayOfWeek)))
			continue
		}
		schedule = append(schedule, domain.WorkingPeriod{
			Weekday:  day,
			HourFrom: r.HourFrom,
			HourTo:   r.HourTo,
			Label:    string(r.Name),
		})
	}
	return schedule, nil
}

type categoryRecord struct {
	ID    int64       `json:"id"`
	Color falsyString `json:"color_code"`
}

func (c *Client) FetchCategoryColors(ctx context.Context, ids []int64) (map[int64]string, error) {
	if len(ids) == 0 {
		return map[int64]string{}, nil
	}

	result, err := c.executeKw(ctx, "fetch category colors", modelCategory, "read",
		[]any{ids}, map[string]any{"fields": []string{"color_code"}})
	if err != nil {
		return nil, err
	}

	var records []categoryRecord
	if err := json.Unmarshal(result, &records); err != nil {
		return nil, &remote.UnavailableError{Op: "fetch category colors", Err: fmt.Errorf("decode records: %w", err)}
	}

	out := make(map[int64]string, len(records))
	for _, r := range records {
		out[r.ID] = string(r.Color)
	}
	return out, nil
}

func appointmentValues(f remote.AppointmentFields) map[string]any {
	values := map[string]any{
		"name":  f.Label,
		"start": formatRemoteTime(f.Start),
		"stop":  formatRemoteTime(f.End),
	}
	if f.ResourceID != nil {
		values["resource_id"] = *f.ResourceID
	}
	if f.CustomerID != nil {
		values["partner_id"] = *f.CustomerID
	}
	if f.CategoryID != nil {
		values["categ_id"] = *f.CategoryID
	}
	if f.Notes != "" {
		values["description"] = f.Notes
	}
	if f.Price.Valid {
		price, _ := f.Price.Decimal.Float64()
		values["price"] = price
	}
	return values
}

func (c *Client) CreateAppointment(ctx context.Context, f remote.AppointmentFields) (int64, error) {
	result, err := c.executeKw(ctx, "create appointment", modelAppointment, "create",
		[]any{appointmentValues(f)}, nil)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := json.Unmarshal(result, &id); err != nil {
		return 0, &remote.UnavailableError{Op: "create appointment", Err: fmt.Errorf("decode id: %w", err)}
	}
	return id, nil
}

func (c *Client) UpdateAppointment(ctx context.Context, remoteID int64, f remote.AppointmentFields) error {
	_, err := c.executeKw(ctx, "update appointment", modelAppointment, "write",
		[]any{[]int64{remoteID}, appointmentValues(f)}, nil)
	return err
}

func (c *Client) DeleteAppointment(ctx context.Context, remoteID int64) error {
	_, err := c.executeKw(ctx, "delete appointment", modelAppointment, "unlink",
		[]any{[]int64{remoteID}}, nil)
	return err
}

// FindOrCreateCustomer resolves a customer record: an existing id wins,
// then exact email, then exact phone; otherwise a new record is created.
// One search-then-create round trip is serialized per client, which keeps
// a single logical booking from duplicating its own customer.
func (c *Client) FindOrCreateCustomer(ctx context.Context, cust remote.CustomerIdentity) (int64, error) {
	c.customerMu.Lock()
	defer c.customerMu.Unlock()

	if cust.ExistingID != nil {
		ids, err := c.searchCustomer(ctx, []any{[]any{"id", "=", *cust.ExistingID}})
		if err != nil {
			return 0, err
		}
		if len(ids) > 0 {
			return ids[0], nil
		}
		// Stale reference; fall through to identity search.
	}

	if cust.Email != "" {
		ids, err := c.searchCustomer(ctx, []any{[]any{"email", "=", cust.Email}})
		if err != nil {
			return 0, err
		}
		if len(ids) > 0 {
			return ids[0], nil
		}
	}

	if cust.Phone != "" {
		ids, err := c.searchCustomer(ctx, []any{[]any{"phone", "=", cust.Phone}})
		if err != nil {
			return 0, err
		}
		if len(ids) > 0 {
			return ids[0], nil
		}
	}

	values := map[string]any{"name": cust.Name}
	if cust.Email != "" {
		values["email"] = cust.Email
	}
	if cust.Phone != "" {
		values["phone"] = cust.Phone
	}

	result, err := c.executeKw(ctx, "create customer", modelCustomer, "create", []any{values}, nil)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := json.Unmarshal(result, &id); err != nil {
		return 0, &remote.UnavailableError{Op: "create customer", Err: fmt.Errorf("decode id: %w", err)}
	}
	return id, nil
}

func (c *Client) searchCustomer(ctx context.Context, domainFilter []any) ([]int64, error) {
	result, err := c.executeKw(ctx, "search customer", modelCustomer, "search",
		[]any{domainFilter}, map[string]any{"limit": 1})
	if err != nil {
		return nil, err
	}
	var ids []int64
	if err := json.Unmarshal(result, &ids); err != nil {
		return nil, &remote.UnavailableError{Op: "search customer", Err: fmt.Errorf("decode ids: %w", err)}
	}
	return ids, nil
}
