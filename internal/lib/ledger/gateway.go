package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ssgreg/repeat"

	"github.com/stakemesh/harvester/internal/lib/misc"
)

// Gateway implements Client against a node sidecar exposing staking state
// and transaction submission over REST.  Chains in this family have no
// native Go codec stack, so the sidecar does the binary encoding and we
// speak JSON to it.
type Gateway struct {
	logger *slog.Logger
	cfg    NetworkConfig
	http   *http.Client
	codec  RecordCodec
}

// Dial validates connectivity (retrying while the node warms up) and returns
// a ready Gateway.
func Dial(ctx context.Context, logger *slog.Logger, cfg NetworkConfig) (*Gateway, error) {
	codec, err := CodecForFamily(cfg.Family)
	if err != nil {
		return nil, err
	}
	g := &Gateway{
		logger: logger,
		cfg:    cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		codec:  codec,
	}
	err = repeat.Repeat(
		repeat.Fn(func() error {
			if _, err := g.ActiveEra(ctx); err != nil {
				return repeat.HintTemporary(err)
			}
			return nil
		}),
		repeat.StopOnSuccess(),
		repeat.LimitMaxTries(10),
		repeat.FnOnError(func(err error) error {
			misc.Warnf(logger, "awaiting ledger gateway at %s, error:%v", cfg.GatewayURL, err)
			return err
		}),
		repeat.WithDelay(
			repeat.SetContextHintStop(),
			(&repeat.FullJitterBackoffBuilder{
				BaseDelay: 2 * time.Second,
				MaxDelay:  15 * time.Second,
			}).Set(),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("ledger gateway %s unreachable: %w", cfg.GatewayURL, err)
	}
	misc.Infof(logger, "connected to ledger gateway, %s", cfg)
	return g, nil
}

// Codec returns the claimed-record codec selected for this chain family.
func (g *Gateway) Codec() RecordCodec {
	return g.codec
}

func (g *Gateway) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.GatewayURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %v: %w", path, err, ErrTransient)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotImplemented {
		return fmt.Errorf("GET %s: %w", path, ErrQueryUnsupported)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: status %d: %s: %w", path, resp.StatusCode, body, ErrTransient)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (g *Gateway) ActiveEra(ctx context.Context) (EraID, error) {
	var out struct {
		ActiveEra uint32 `json:"activeEra"`
	}
	if err := g.get(ctx, "/v1/staking/progress", &out); err != nil {
		return 0, err
	}
	return EraID(out.ActiveEra), nil
}

func (g *Gateway) HistoryDepth(ctx context.Context) (uint32, error) {
	var out struct {
		HistoryDepth uint32 `json:"historyDepth"`
	}
	if err := g.get(ctx, "/v1/staking/progress", &out); err != nil {
		return 0, err
	}
	return out.HistoryDepth, nil
}

type rewardRecordDTO struct {
	Encoding     string          `json:"encoding"`
	ClaimedEras  []uint32        `json:"claimedEras,omitempty"`
	BitmaskStart uint32          `json:"bitmaskStart,omitempty"`
	Bitmask      string          `json:"bitmask,omitempty"` // base64
	Pages        map[string]struct {
		PageCount    uint32   `json:"pageCount"`
		ClaimedPages []uint32 `json:"claimedPages"`
	} `json:"pages,omitempty"`
}

func (g *Gateway) RewardState(ctx context.Context, stash string) (*RewardRecord, error) {
	var dto rewardRecordDTO
	if err := g.get(ctx, "/v1/accounts/"+url.PathEscape(stash)+"/reward-state", &dto); err != nil {
		return nil, err
	}
	rec := &RewardRecord{}
	switch dto.Encoding {
	case "list":
		rec.Encoding = EncodingList
		for _, e := range dto.ClaimedEras {
			rec.ClaimedEras = append(rec.ClaimedEras, EraID(e))
		}
	case "bitmask":
		rec.Encoding = EncodingBitmask
		rec.BitmaskStart = EraID(dto.BitmaskStart)
		bits, err := base64.StdEncoding.DecodeString(dto.Bitmask)
		if err != nil {
			return nil, fmt.Errorf("bitmask decode for %s: %w", stash, ErrQueryUnsupported)
		}
		rec.Bitmask = bits
	case "paged":
		rec.Encoding = EncodingPaged
		rec.Pages = map[EraID]PagedEra{}
		for eraStr, p := range dto.Pages {
			var era uint32
			if _, err := fmt.Sscanf(eraStr, "%d", &era); err != nil {
				return nil, fmt.Errorf("paged record era key %q: %w", eraStr, ErrQueryUnsupported)
			}
			pe := PagedEra{PageCount: PageIndex(p.PageCount)}
			for _, cp := range p.ClaimedPages {
				pe.ClaimedPages = append(pe.ClaimedPages, PageIndex(cp))
			}
			rec.Pages[EraID(era)] = pe
		}
	default:
		return nil, fmt.Errorf("reward record encoding %q: %w", dto.Encoding, ErrQueryUnsupported)
	}
	return rec, nil
}

func (g *Gateway) StakeActive(ctx context.Context, stash string, era EraID) (bool, error) {
	var out struct {
		Active bool `json:"active"`
	}
	path := fmt.Sprintf("/v1/accounts/%s/exposure/%d", url.PathEscape(stash), era)
	if err := g.get(ctx, path, &out); err != nil {
		return false, err
	}
	return out.Active, nil
}

// SubscribeEraPaid emulates an event stream by polling the active era and
// emitting once per observed increment.  The sidecar has no push channel.
func (g *Gateway) SubscribeEraPaid(ctx context.Context) (<-chan EraID, error) {
	last, err := g.ActiveEra(ctx)
	if err != nil {
		return nil, err
	}
	ch := make(chan EraID, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(g.cfg.EraPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				era, err := g.ActiveEra(ctx)
				if err != nil {
					misc.Debugf(g.logger, "era poll error (will retry): %v", err)
					continue
				}
				if era > last {
					last = era
					select {
					case ch <- era:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return ch, nil
}

type submitResponseDTO struct {
	Status string `json:"status"` // broadcast|inBlock|finalized|dropped|invalid|overweight
	Block  uint64 `json:"block"`
	Error  string `json:"error,omitempty"`
	Items  []struct {
		Index              int    `json:"index"`
		Failed             bool   `json:"failed"`
		Reason             string `json:"reason,omitempty"`
		ValidatorAmount    uint64 `json:"validatorAmount"`
		NominatorsAmount   uint64 `json:"nominatorsAmount"`
		NominatorsQuantity int    `json:"nominatorsQuantity"`
	} `json:"items,omitempty"`
}

func (g *Gateway) Submit(ctx context.Context, batch *SignedBatch) (<-chan SubmissionStatus, error) {
	body, err := json.Marshal(map[string]any{
		"signer":       batch.Signer,
		"payload":      base64.StdEncoding.EncodeToString(batch.Payload),
		"tip":          batch.Tip,
		"mortalPeriod": batch.MortalPeriod,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.GatewayURL+"/v1/transaction", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit: %v: %w", err, ErrTransient)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("submit: status %d: %s: %w", resp.StatusCode, respBody, ErrTransient)
	}
	var dto submitResponseDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return nil, fmt.Errorf("submit response decode: %v: %w", err, ErrTransient)
	}
	if dto.Status == "overweight" {
		return nil, fmt.Errorf("submit %d calls: %w", len(batch.Tasks), ErrOverweight)
	}

	ch := make(chan SubmissionStatus, 4)
	go g.watchSubmission(ctx, dto, ch)
	return ch, nil
}

// watchSubmission relays the synchronous sidecar answer as a status stream.
// The sidecar blocks until finalization, so the interesting statuses arrive
// in its single response; the stream shape matches push-capable transports.
func (g *Gateway) watchSubmission(ctx context.Context, dto submitResponseDTO, ch chan<- SubmissionStatus) {
	defer close(ch)
	emit := func(st SubmissionStatus) bool {
		select {
		case ch <- st:
			return true
		case <-ctx.Done():
			return false
		}
	}
	switch dto.Status {
	case "finalized":
		st := SubmissionStatus{State: StateFinalized, Block: dto.Block}
		for _, it := range dto.Items {
			st.Items = append(st.Items, ItemResult{
				Index:              it.Index,
				Failed:             it.Failed,
				Reason:             it.Reason,
				ValidatorAmount:    it.ValidatorAmount,
				NominatorsAmount:   it.NominatorsAmount,
				NominatorsQuantity: it.NominatorsQuantity,
			})
		}
		emit(SubmissionStatus{State: StateInBlock, Block: dto.Block})
		emit(st)
	case "dropped":
		emit(SubmissionStatus{State: StateDropped, Err: fmt.Errorf("%s: %w", dto.Error, ErrTransient)})
	case "invalid":
		emit(SubmissionStatus{State: StateInvalid, Err: fmt.Errorf("%s: %w", dto.Error, ErrSubmissionRejected)})
	default:
		emit(SubmissionStatus{State: StateBroadcast})
	}
}

func (g *Gateway) FreeBalance(ctx context.Context, account string) (uint64, error) {
	var out struct {
		Free uint64 `json:"free"`
	}
	if err := g.get(ctx, "/v1/accounts/"+url.PathEscape(account)+"/balance", &out); err != nil {
		return 0, err
	}
	return out.Free, nil
}

func (g *Gateway) ExistentialDeposit(ctx context.Context) (uint64, error) {
	var out struct {
		ExistentialDeposit uint64 `json:"existentialDeposit"`
	}
	if err := g.get(ctx, "/v1/constants", &out); err != nil {
		return 0, err
	}
	return out.ExistentialDeposit, nil
}

func (g *Gateway) Identity(ctx context.Context, account string) (string, bool, error) {
	var out struct {
		Display    string `json:"display"`
		Registered bool   `json:"registered"`
	}
	if err := g.get(ctx, "/v1/accounts/"+url.PathEscape(account)+"/identity", &out); err != nil {
		return "", false, err
	}
	return out.Display, out.Registered, nil
}

func (g *Gateway) PoolNominees(ctx context.Context, poolID uint32) (*PoolNominees, error) {
	var out struct {
		All    []string `json:"all"`
		Active []string `json:"active"`
	}
	if err := g.get(ctx, fmt.Sprintf("/v1/pools/%d/nominees", poolID), &out); err != nil {
		return nil, err
	}
	return &PoolNominees{All: out.All, Active: out.Active}, nil
}

func (g *Gateway) PoolMembersForCompound(ctx context.Context, poolID uint32, threshold uint64) ([]string, error) {
	var out struct {
		Members []struct {
			Account string `json:"account"`
			Pending uint64 `json:"pending"`
		} `json:"members"`
	}
	if err := g.get(ctx, fmt.Sprintf("/v1/pools/%d/compoundable", poolID), &out); err != nil {
		return nil, err
	}
	var members []string
	for _, m := range out.Members {
		if m.Pending > threshold {
			members = append(members, m.Account)
		}
	}
	return members, nil
}

func (g *Gateway) PoolPendingCommission(ctx context.Context, poolID uint32) (uint64, error) {
	var out struct {
		Pending uint64 `json:"pending"`
	}
	if err := g.get(ctx, fmt.Sprintf("/v1/pools/%d/commission", poolID), &out); err != nil {
		return 0, err
	}
	return out.Pending, nil
}
