// Package symbols resolves the configured trading symbol name to a broker
// symbol id and fetches its precision/volume metadata.
package symbols

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/palmoil/agent/internal/apperror"
	"github.com/palmoil/agent/internal/model"
	"github.com/palmoil/agent/internal/wire"
)

// DefaultListTimeout bounds each round trip (the symbol list and every
// metadata attempt); DefaultMetaRetries/DefaultMetaBackoff set the metadata
// retry schedule.
const (
	DefaultListTimeout   = 10 * time.Second
	DefaultMetaRetries   = 3
	DefaultMetaBackoff   = 2 * time.Second
	maxLoggedCandidates  = 20
)

// RequestWaiter is the subset of *session.Router the resolver needs.
type RequestWaiter interface {
	Send(wire.Envelope) error
	WaitFor(ctx context.Context, expected wire.PayloadType, timeout time.Duration) (wire.Envelope, error)
}

// Resolver resolves a configured symbol name to a broker id+metadata.
type Resolver struct {
	router  RequestWaiter
	aliases map[string][]string
	logger  *logrus.Entry
}

// New constructs a Resolver. aliasFileContents may be nil to use the
// embedded default alias document.
func New(router RequestWaiter, aliasFileContents []byte, logger *logrus.Entry) (*Resolver, error) {
	aliases, err := loadAliases(aliasFileContents)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindConfig, err, "parsing symbol alias document")
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Resolver{router: router, aliases: aliases, logger: logger.WithField("subsystem", "symbols")}, nil
}

// Resolve fetches the broker's symbol catalogue, matches name
// case-insensitively (falling back to the configured alias chain), and
// fetches its metadata with retry. Metadata failure is non-fatal: the
// returned Metadata pointer is nil and the caller proceeds with defaults.
func (r *Resolver) Resolve(ctx context.Context, name string) (model.Symbol, *model.Metadata, error) {
	catalogue, err := r.fetchList(ctx)
	if err != nil {
		return model.Symbol{}, nil, err
	}

	sym, ok := matchSymbol(catalogue, name)
	if !ok {
		for _, candidate := range r.aliases[strings.ToUpper(name)] {
			if sym, ok = matchSymbol(catalogue, candidate); ok {
				r.logger.WithFields(logrus.Fields{"requested": name, "resolved_as": candidate}).
					Info("resolved symbol via alias fallback")
				break
			}
		}
	}
	if !ok {
		r.logSymbolCandidates(name, catalogue)
		return model.Symbol{}, nil, apperror.New(apperror.KindNotFound, fmt.Sprintf("symbol %q not found on broker (and no alias matched)", name))
	}

	md, err := r.fetchMetadata(ctx, sym.ID)
	if err != nil {
		r.logger.WithError(err).WithField("symbol_id", sym.ID).
			Warn("symbol metadata fetch failed after retries; proceeding with default precision")
		return sym, nil, nil
	}
	return sym, &md, nil
}

func matchSymbol(catalogue []wire.SymbolInfo, name string) (model.Symbol, bool) {
	target := strings.ToLower(strings.TrimSpace(name))
	for _, s := range catalogue {
		if strings.ToLower(s.Name) == target {
			return model.Symbol{ID: s.ID, Name: s.Name}, true
		}
	}
	return model.Symbol{}, false
}

func (r *Resolver) logSymbolCandidates(requested string, catalogue []wire.SymbolInfo) {
	n := len(catalogue)
	if n > maxLoggedCandidates {
		n = maxLoggedCandidates
	}
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		names = append(names, catalogue[i].Name)
	}
	r.logger.WithFields(logrus.Fields{
		"requested":       requested,
		"available_count": len(catalogue),
		"available":       names,
	}).Warn("symbol not found in broker catalogue")
}

func (r *Resolver) fetchList(ctx context.Context) ([]wire.SymbolInfo, error) {
	if err := r.router.Send(wire.Envelope{PayloadType: uint32(wire.PayloadSymbolsListReq), Payload: wire.SymbolsListReq{}.Marshal()}); err != nil {
		return nil, err
	}
	env, err := r.router.WaitFor(ctx, wire.PayloadSymbolsListRes, DefaultListTimeout)
	if err != nil {
		return nil, err
	}
	res, err := wire.UnmarshalSymbolsListRes(env.Payload)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindProtocol, err, "decoding SymbolsListRes")
	}
	return res.Symbols, nil
}

// fetchMetadata retries up to DefaultMetaRetries times with a fixed
// DefaultMetaBackoff between attempts.
func (r *Resolver) fetchMetadata(ctx context.Context, symbolID int64) (model.Metadata, error) {
	var lastErr error
	for attempt := 0; attempt <= DefaultMetaRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(DefaultMetaBackoff):
			case <-ctx.Done():
				return model.Metadata{}, ctx.Err()
			}
		}

		req := wire.SymbolByIDReq{SymbolID: symbolID}
		if err := r.router.Send(wire.Envelope{PayloadType: uint32(wire.PayloadSymbolByIDReq), Payload: req.Marshal()}); err != nil {
			lastErr = err
			continue
		}
		env, err := r.router.WaitFor(ctx, wire.PayloadSymbolByIDRes, DefaultListTimeout)
		if err != nil {
			lastErr = err
			continue
		}
		res, err := wire.UnmarshalSymbolByIDRes(env.Payload)
		if err != nil {
			lastErr = apperror.Wrap(apperror.KindProtocol, err, "decoding SymbolByIDRes")
			continue
		}
		return model.Metadata{
			PriceDigits:      int(res.PriceDigits),
			PipPosition:      int(res.PipPosition),
			MinVolume:        res.MinVolume,
			VolumeStep:       res.VolumeStep,
			MinDistancePrice: res.MinDistancePrice,
		}, nil
	}
	return model.Metadata{}, lastErr
}
