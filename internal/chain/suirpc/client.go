// Package suirpc implementa chain.Gateway sobre o JSON-RPC de um full node Sui.
package suirpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/radieske/pricebet-settlement/internal/chain"
	"github.com/radieske/pricebet-settlement/internal/shared/logger"
)

const (
	coinsPageLimit = 50
	maxCoinPages   = 20
)

// Client fala com o full node. Seguro para uso concorrente.
type Client struct {
	url     string
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
	seq     atomic.Uint64
}

// New cria o cliente; rps <= 0 desliga o rate limit local.
func New(url string, rps float64, log *zap.Logger) *Client {
	lim := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &Client{
		url:     url,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: lim,
		log:     logger.OrNop(log),
	}
}

var _ chain.Gateway = (*Client)(nil)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call executa um método. Falhas HTTP carregam o status no texto para que a
// classificação de erros reconheça 429/5xx.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", method, err)
	}
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.seq.Add(1), Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", method, err)
	}
	c.log.Debug("sui rpc call", zap.String("method", method), zap.Int("status", resp.StatusCode), zap.Duration("took", time.Since(start)))

	if resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(raw))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return fmt.Errorf("%s: http %d: %s", method, resp.StatusCode, snippet)
	}

	var rr rpcResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if rr.Error != nil {
		return fmt.Errorf("%s: %w", method, rr.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rr.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// ---- formatos do JSON-RPC ----

type execStatus struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

type effectsJSON struct {
	Status execStatus `json:"status"`
}

type eventJSON struct {
	Type       string         `json:"type"`
	ParsedJSON map[string]any `json:"parsedJson"`
}

type objectChangeJSON struct {
	Type       string `json:"type"`
	ObjectID   string `json:"objectId"`
	ObjectType string `json:"objectType"`
}

type txBlockJSON struct {
	Digest        string             `json:"digest"`
	Effects       *effectsJSON       `json:"effects"`
	Events        []eventJSON        `json:"events"`
	ObjectChanges []objectChangeJSON `json:"objectChanges"`
}

type coinJSON struct {
	CoinObjectID string `json:"coinObjectId"`
	Version      string `json:"version"`
	Digest       string `json:"digest"`
	Balance      string `json:"balance"`
}

type coinPageJSON struct {
	Data        []coinJSON `json:"data"`
	NextCursor  *string    `json:"nextCursor"`
	HasNextPage bool       `json:"hasNextPage"`
}

type objectDataJSON struct {
	ObjectID string          `json:"objectId"`
	Version  string          `json:"version"`
	Digest   string          `json:"digest"`
	Owner    json.RawMessage `json:"owner"`
}

type objectResponseJSON struct {
	Data  *objectDataJSON `json:"data"`
	Error json.RawMessage `json:"error"`
}

type sharedOwnerJSON struct {
	Shared *struct {
		InitialSharedVersion json.Number `json:"initial_shared_version"`
	} `json:"Shared"`
}

// ---- Gateway ----

// Build resolve as referências dos objetos de entrada, busca o preço de
// referência do gás e serializa TransactionData em BCS.
func (c *Client) Build(ctx context.Context, plan chain.Plan, gas chain.GasPayment) ([]byte, error) {
	objs, err := c.resolveObjects(ctx, plan.Inputs)
	if err != nil {
		return nil, err
	}
	price, err := c.ReferenceGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	return encodeTransactionData(plan, objs, gas, price)
}

func (c *Client) Simulate(ctx context.Context, txBytes []byte) (*chain.SimulationResult, error) {
	var res struct {
		Effects effectsJSON `json:"effects"`
	}
	if err := c.call(ctx, "sui_dryRunTransactionBlock", []any{base64.StdEncoding.EncodeToString(txBytes)}, &res); err != nil {
		return nil, err
	}
	return &chain.SimulationResult{
		Success: res.Effects.Status.Status == string(chain.TxSuccess),
		Error:   res.Effects.Status.Error,
	}, nil
}

func (c *Client) Submit(ctx context.Context, txBytes []byte, signatures []string) (*chain.SubmitResult, error) {
	var res txBlockJSON
	params := []any{
		base64.StdEncoding.EncodeToString(txBytes),
		signatures,
		map[string]bool{"showEffects": true},
		"WaitForLocalExecution",
	}
	if err := c.call(ctx, "sui_executeTransactionBlock", params, &res); err != nil {
		return nil, err
	}
	return &chain.SubmitResult{Digest: res.Digest}, nil
}

func (c *Client) FetchByDigest(ctx context.Context, digest string) (*chain.TxRecord, error) {
	var res txBlockJSON
	opts := map[string]bool{"showEffects": true, "showEvents": true, "showObjectChanges": true}
	if err := c.call(ctx, "sui_getTransactionBlock", []any{digest, opts}, &res); err != nil {
		if isNotFound(err) {
			return nil, chain.ErrTxNotFound
		}
		return nil, err
	}
	if res.Effects == nil {
		return nil, chain.ErrTxNotFound
	}

	rec := &chain.TxRecord{
		Digest: res.Digest,
		Status: chain.TxStatus(res.Effects.Status.Status),
		Error:  res.Effects.Status.Error,
	}
	for _, e := range res.Events {
		rec.Events = append(rec.Events, chain.Event{Type: e.Type, ParsedJSON: e.ParsedJSON})
	}
	for _, oc := range res.ObjectChanges {
		rec.ObjectChanges = append(rec.ObjectChanges, chain.ObjectChange{Type: oc.Type, ObjectID: oc.ObjectID, ObjectType: oc.ObjectType})
	}
	return rec, nil
}

func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "could not find the referenced transaction") ||
		strings.Contains(msg, "not found")
}

// ListCoins percorre as páginas de suix_getCoins.
func (c *Client) ListCoins(ctx context.Context, owner, coinType string) ([]chain.Coin, error) {
	var (
		out    []chain.Coin
		cursor *string
	)
	for page := 0; page < maxCoinPages; page++ {
		var res coinPageJSON
		if err := c.call(ctx, "suix_getCoins", []any{owner, coinType, cursor, coinsPageLimit}, &res); err != nil {
			return nil, err
		}
		for _, cj := range res.Data {
			coin, err := cj.toCoin()
			if err != nil {
				return nil, err
			}
			out = append(out, coin)
		}
		if !res.HasNextPage || res.NextCursor == nil {
			break
		}
		cursor = res.NextCursor
	}
	return out, nil
}

func (cj coinJSON) toCoin() (chain.Coin, error) {
	ver, err := strconv.ParseUint(cj.Version, 10, 64)
	if err != nil {
		return chain.Coin{}, fmt.Errorf("coin %s: invalid version %q", cj.CoinObjectID, cj.Version)
	}
	bal, err := strconv.ParseUint(cj.Balance, 10, 64)
	if err != nil {
		return chain.Coin{}, fmt.Errorf("coin %s: invalid balance %q", cj.CoinObjectID, cj.Balance)
	}
	return chain.Coin{ID: cj.CoinObjectID, Version: ver, Digest: cj.Digest, Balance: bal}, nil
}

// ReferenceGasPrice devolve o preço de referência da época atual.
func (c *Client) ReferenceGasPrice(ctx context.Context) (uint64, error) {
	var s json.Number
	if err := c.call(ctx, "suix_getReferenceGasPrice", nil, &s); err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid reference gas price %q", s)
	}
	return v, nil
}

func (c *Client) resolveObjects(ctx context.Context, inputs []chain.PlanInput) (map[string]resolvedObject, error) {
	var ids []string
	seen := map[string]bool{}
	for _, in := range inputs {
		if in.Kind == chain.InputPure {
			continue
		}
		id, err := chain.NormalizeAddress(in.ObjectID)
		if err != nil {
			return nil, err
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	out := make(map[string]resolvedObject, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var res []objectResponseJSON
	if err := c.call(ctx, "sui_multiGetObjects", []any{ids, map[string]bool{"showOwner": true}}, &res); err != nil {
		return nil, err
	}
	for i, r := range res {
		if r.Data == nil {
			if i < len(ids) {
				return nil, fmt.Errorf("object %s not found", ids[i])
			}
			return nil, fmt.Errorf("object lookup returned an empty entry")
		}
		obj, err := r.Data.toResolved()
		if err != nil {
			return nil, err
		}
		id, err := chain.NormalizeAddress(r.Data.ObjectID)
		if err != nil {
			return nil, err
		}
		out[id] = obj
	}
	return out, nil
}

func (d *objectDataJSON) toResolved() (resolvedObject, error) {
	ver, err := strconv.ParseUint(d.Version, 10, 64)
	if err != nil {
		return resolvedObject{}, fmt.Errorf("object %s: invalid version %q", d.ObjectID, d.Version)
	}
	obj := resolvedObject{Ref: objectRef{ID: d.ObjectID, Version: ver, Digest: d.Digest}}

	var sh sharedOwnerJSON
	dec := json.NewDecoder(bytes.NewReader(d.Owner))
	dec.UseNumber()
	// owner pode ser string ("Immutable"); nesse caso o decode falha e o objeto é tratado como owned
	if err := dec.Decode(&sh); err == nil && sh.Shared != nil {
		isv, err := strconv.ParseUint(sh.Shared.InitialSharedVersion.String(), 10, 64)
		if err != nil {
			return resolvedObject{}, fmt.Errorf("object %s: invalid initial shared version", d.ObjectID)
		}
		obj.Shared = true
		obj.InitialSharedVersion = isv
	}
	return obj, nil
}
