package steam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ksred/steam-billing-api/internal/types"
)

const (
	DefaultPartnerURL = "https://partner.steam-api.com/"
	DefaultPublicURL  = "https://api.steampowered.com/"
	DefaultTimeout    = 10 * time.Second

	microTxnInterface        = "ISteamMicroTxn"
	microTxnSandboxInterface = "ISteamMicroTxnSandbox"
)

// Options configures a Client
type Options struct {
	WebKey     string
	AppID      string
	Sandbox    bool
	Timeout    time.Duration
	PartnerURL string
	PublicURL  string
	HTTPClient *http.Client
}

// Client talks to the Steam partner Web API
type Client struct {
	webKey     string
	appID      string
	iface      string
	timeout    time.Duration
	partnerURL string
	publicURL  string
	httpClient *http.Client
	logger     zerolog.Logger
}

var _ Gateway = (*Client)(nil)

// NewClient creates a client. Sandbox selects the ISteamMicroTxnSandbox
// interface for every microtransaction call.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PartnerURL == "" {
		opts.PartnerURL = DefaultPartnerURL
	}
	if opts.PublicURL == "" {
		opts.PublicURL = DefaultPublicURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}

	iface := microTxnInterface
	if opts.Sandbox {
		iface = microTxnSandboxInterface
	}

	return &Client{
		webKey:     opts.WebKey,
		appID:      opts.AppID,
		iface:      iface,
		timeout:    opts.Timeout,
		partnerURL: withSlash(opts.PartnerURL),
		publicURL:  withSlash(opts.PublicURL),
		httpClient: opts.HTTPClient,
		logger:     log.With().Str("component", "steam_client").Str("interface", iface).Logger(),
	}
}

// envelope is the shape shared by every ISteamMicroTxn response
type envelope[P any] struct {
	Response struct {
		Result string     `json:"result"`
		Params P          `json:"params"`
		Error  *errorBody `json:"error"`
	} `json:"response"`
}

func (e *envelope[P]) check(op string) error {
	if e.Response.Result != types.ResultOK {
		return e.Response.Error.toError(op)
	}
	return nil
}

// CheckAppOwnership reports whether steamID owns appID (the configured app when empty)
func (c *Client) CheckAppOwnership(ctx context.Context, steamID, appID string) (*Ownership, error) {
	const op = "CheckAppOwnership"
	var body struct {
		AppOwnership struct {
			Ownership
			Result string `json:"result"`
		} `json:"appownership"`
	}

	params := url.Values{
		"key":     {c.webKey},
		"steamid": {steamID},
		"appid":   {c.app(appID)},
	}
	if err := c.get(ctx, op, "ISteamUser", 2, params, &body); err != nil {
		return nil, err
	}
	if body.AppOwnership.Result != types.ResultOK {
		return nil, rejected(op, body.AppOwnership.Result, "")
	}

	ownership := body.AppOwnership.Ownership
	return &ownership, nil
}

// AuthenticateUserTicket resolves a client session ticket to a steam id
func (c *Client) AuthenticateUserTicket(ctx context.Context, ticket, appID string) (*TicketAuth, error) {
	const op = "AuthenticateUserTicket"
	var body struct {
		Response struct {
			Params struct {
				TicketAuth
				Result string `json:"result"`
			} `json:"params"`
			Error *errorBody `json:"error"`
		} `json:"response"`
	}

	params := url.Values{
		"key":    {c.webKey},
		"appid":  {c.app(appID)},
		"ticket": {ticket},
	}
	if err := c.get(ctx, op, "ISteamUserAuth", 1, params, &body); err != nil {
		return nil, err
	}
	if body.Response.Params.Result != types.ResultOK {
		return nil, body.Response.Error.toError(op)
	}
	if body.Response.Params.SteamID == "" {
		return nil, missingField(op, "steamid")
	}

	auth := body.Response.Params.TicketAuth
	return &auth, nil
}

// GetUserInfo returns the platform's trust status for a user
func (c *Client) GetUserInfo(ctx context.Context, steamID string) (*UserInfo, error) {
	const op = "GetUserInfo"
	var body envelope[UserInfo]

	params := url.Values{
		"key":     {c.webKey},
		"steamid": {steamID},
	}
	if err := c.get(ctx, op, c.iface, 2, params, &body); err != nil {
		return nil, err
	}
	if err := body.check(op); err != nil {
		return nil, err
	}

	info := body.Response.Params
	return &info, nil
}

// InitTxn opens a one-item transaction. The user sees the purchase overlay
// if the game is running.
func (c *Client) InitTxn(ctx context.Context, req InitTxnRequest) (*InitTxnResult, error) {
	const op = "InitTxn"
	var body envelope[struct {
		OrderID    string `json:"orderid"`
		TransID    string `json:"transid"`
		Agreements []struct {
			AgreementID string `json:"agreementid"`
		} `json:"agreements"`
	}]

	amount := strconv.FormatInt(req.Amount, 10)
	form := url.Values{
		"key":            {c.webKey},
		"orderid":        {req.OrderID},
		"steamid":        {req.SteamID},
		"appid":          {c.appID},
		"itemcount":      {"1"},
		"currency":       {req.Currency},
		"language":       {req.Language},
		"usersession":    {"client"},
		"itemid[0]":      {strconv.Itoa(req.ItemID)},
		"qty[0]":         {"1"},
		"amount[0]":      {amount},
		"description[0]": {req.Description},
	}
	if req.Period != "" && req.Frequency > 0 {
		form.Set("category[0]", "Subscription")
		form.Set("billingtype[0]", "Steam")
		form.Set("period[0]", req.Period)
		form.Set("frequency[0]", strconv.Itoa(req.Frequency))
		// optional in the docs, rejected without it in practice
		form.Set("recurringamt[0]", amount)
	}

	if err := c.post(ctx, op, c.publicURL, c.iface, 3, form, &body); err != nil {
		return nil, err
	}
	if err := body.check(op); err != nil {
		return nil, err
	}
	if body.Response.Params.TransID == "" {
		return nil, missingField(op, "transid")
	}

	result := &InitTxnResult{
		OrderID: body.Response.Params.OrderID,
		TransID: body.Response.Params.TransID,
	}
	for _, a := range body.Response.Params.Agreements {
		if a.AgreementID != "" {
			result.AgreementIDs = append(result.AgreementIDs, a.AgreementID)
		}
	}
	return result, nil
}

// QueryTxn returns the current state of a transaction. An empty transID
// looks the order up by its order id alone.
func (c *Client) QueryTxn(ctx context.Context, orderID, transID string) (*TxnDetails, error) {
	const op = "QueryTxn"
	var body envelope[TxnDetails]

	params := url.Values{
		"key":     {c.webKey},
		"appid":   {c.appID},
		"orderid": {orderID},
	}
	if transID != "" {
		params.Set("transid", transID)
	}
	if err := c.get(ctx, op, c.iface, 2, params, &body); err != nil {
		return nil, err
	}
	if err := body.check(op); err != nil {
		return nil, err
	}

	details := body.Response.Params
	return &details, nil
}

// FinalizeTxn completes an approved transaction
func (c *Client) FinalizeTxn(ctx context.Context, orderID string) error {
	const op = "FinalizeTxn"
	var body envelope[json.RawMessage]

	form := url.Values{
		"key":     {c.webKey},
		"appid":   {c.appID},
		"orderid": {orderID},
	}
	if err := c.post(ctx, op, c.partnerURL, c.iface, 2, form, &body); err != nil {
		return err
	}
	return body.check(op)
}

// CancelAgreement stops a recurring-billing agreement
func (c *Client) CancelAgreement(ctx context.Context, steamID, agreementID string) (*CancelResult, error) {
	const op = "CancelAgreement"
	var body envelope[CancelResult]

	form := url.Values{
		"key":         {c.webKey},
		"steamid":     {steamID},
		"appid":       {c.appID},
		"agreementid": {agreementID},
	}
	if err := c.post(ctx, op, c.partnerURL, c.iface, 1, form, &body); err != nil {
		return nil, err
	}
	if err := body.check(op); err != nil {
		return nil, err
	}

	result := body.Response.Params
	if result.AgreementID == "" {
		result.AgreementID = agreementID
	}
	return &result, nil
}

// GetUserAgreementInfo returns the user's active agreement. The platform
// allows a single active agreement per user, so only the first is read.
func (c *Client) GetUserAgreementInfo(ctx context.Context, steamID string) (*Agreement, error) {
	const op = "GetUserAgreementInfo"
	var body envelope[struct {
		Agreements json.RawMessage `json:"agreements"`
	}]

	params := url.Values{
		"key":     {c.webKey},
		"steamid": {steamID},
		"appid":   {c.appID},
	}
	if err := c.get(ctx, op, c.iface, 2, params, &body); err != nil {
		return nil, err
	}
	if err := body.check(op); err != nil {
		return nil, err
	}

	agreement, err := firstAgreement(body.Response.Params.Agreements)
	if err != nil {
		return nil, &PlatformError{Operation: op, Description: err.Error()}
	}
	if agreement == nil || agreement.AgreementID == "" {
		return nil, missingField(op, "agreement")
	}
	return agreement, nil
}

// firstAgreement accepts both the array form and the keyed
// {"agreement[0]": {...}} form of the agreements field
func firstAgreement(raw json.RawMessage) (*Agreement, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var list []Agreement
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("malformed agreements: %w", err)
		}
		if len(list) == 0 {
			return nil, nil
		}
		return &list[0], nil
	}

	var keyed map[string]Agreement
	if err := json.Unmarshal(trimmed, &keyed); err != nil {
		return nil, fmt.Errorf("malformed agreements: %w", err)
	}
	if a, ok := keyed["agreement[0]"]; ok {
		return &a, nil
	}
	keys := make([]string, 0, len(keyed))
	for k := range keyed {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)
	a := keyed[keys[0]]
	return &a, nil
}

// GetReport returns ledger entries updated since query.Since
func (c *Client) GetReport(ctx context.Context, query ReportQuery) (*Report, error) {
	const op = "GetReport"
	var body envelope[Report]

	if query.Type == "" {
		query.Type = ReportTypeSubscription
	}
	params := url.Values{
		"key":        {c.webKey},
		"appid":      {c.appID},
		"type":       {query.Type},
		"time":       {query.Since.UTC().Format(ReportTimeFormat)},
		"maxresults": {strconv.Itoa(query.MaxResults)},
	}
	if err := c.get(ctx, op, c.iface, 5, params, &body); err != nil {
		return nil, err
	}
	if err := body.check(op); err != nil {
		return nil, err
	}

	report := body.Response.Params
	return &report, nil
}

func (c *Client) app(appID string) string {
	if appID == "" {
		return c.appID
	}
	return appID
}

func (c *Client) get(ctx context.Context, op, iface string, version int, params url.Values, out any) error {
	endpoint := fmt.Sprintf("%s%s/%s/v%d/?%s", c.partnerURL, iface, op, version, params.Encode())
	return c.do(ctx, op, http.MethodGet, endpoint, nil, out)
}

func (c *Client) post(ctx context.Context, op, baseURL, iface string, version int, form url.Values, out any) error {
	endpoint := fmt.Sprintf("%s%s/%s/v%d/", baseURL, iface, op, version)
	return c.do(ctx, op, http.MethodPost, endpoint, strings.NewReader(form.Encode()), out)
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, body io.Reader, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return unreachable(op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("operation", op).Msg("steam request failed")
		return unreachable(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return unreachable(op, err)
	}

	c.logger.Debug().
		Str("operation", op).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("steam request completed")

	if resp.StatusCode == http.StatusForbidden {
		return &PlatformError{Operation: op, HTTPStatus: resp.StatusCode, Description: "invalid steam web key"}
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		var failed envelope[json.RawMessage]
		if json.Unmarshal(raw, &failed) == nil && failed.Response.Error != nil {
			pe := failed.Response.Error.toError(op)
			pe.HTTPStatus = resp.StatusCode
			pe.Rejected = false
			return pe
		}
		return &PlatformError{
			Operation:   op,
			HTTPStatus:  resp.StatusCode,
			Description: fmt.Sprintf("steam api returned http %d", resp.StatusCode),
		}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &PlatformError{Operation: op, Description: fmt.Sprintf("malformed %s response: %v", op, err)}
	}
	return nil
}

func withSlash(u string) string {
	if strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}
