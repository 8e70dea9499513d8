package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// PayloadType enumerates the message catalogue used by the core.
type PayloadType uint32

// Payload type tags. Values are this client's own numbering -- the real
// broker's tag space is not published to this codebase, so the router
// dispatches purely on these symbolic constants end to end.
const (
	PayloadApplicationAuthReq PayloadType = 2100
	PayloadApplicationAuthRes PayloadType = 2101
	PayloadAccountAuthReq     PayloadType = 2102
	PayloadAccountAuthRes     PayloadType = 2103
	PayloadSymbolsListReq     PayloadType = 2114
	PayloadSymbolsListRes     PayloadType = 2115
	PayloadSymbolByIDReq      PayloadType = 2116
	PayloadSymbolByIDRes      PayloadType = 2117
	PayloadSubscribeSpotsReq  PayloadType = 2127
	PayloadSubscribeSpotsRes  PayloadType = 2128
	PayloadSpotEvent          PayloadType = 2131
	PayloadNewOrderReq        PayloadType = 2106
	PayloadExecutionEvent     PayloadType = 2126
	PayloadOrderErrorEvent    PayloadType = 2132
	PayloadClosePositionReq   PayloadType = 2109
	PayloadHeartbeatEvent     PayloadType = 2149
	PayloadErrorRes           PayloadType = 2142
	PayloadReconcileReq       PayloadType = 2124
	PayloadReconcileRes       PayloadType = 2125
)

// ErrorRes is the protocol's generic error envelope payload: waiters must fail fast on this rather than waiting out their
// deadline.
type ErrorRes struct {
	Code        string
	Description string
}

// Known hard/transient error codes.
const (
	CodeInvalidClient           = "INVALID_CLIENT"
	CodeAlreadyLoggedIn         = "ALREADY_LOGGED_IN"         // 103
	CodeClientNotAuthenticated  = "CH_CLIENT_NOT_AUTHENTICATED" // 102
)

func (m ErrorRes) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.Code)
	b = appendString(b, 2, m.Description)
	return b
}

func UnmarshalErrorRes(b []byte) (ErrorRes, error) {
	var m ErrorRes
	return m, walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			m.Code = string(v)
		case 2:
			m.Description = string(v)
		}
		return nil
	})
}

// ApplicationAuthReq carries client id + secret.
type ApplicationAuthReq struct {
	ClientID     string
	ClientSecret string
}

func (m ApplicationAuthReq) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.ClientID)
	b = appendString(b, 2, m.ClientSecret)
	return b
}

// ApplicationAuthRes is an empty ack.
type ApplicationAuthRes struct{}

func (ApplicationAuthRes) Marshal() []byte { return nil }

// AccountAuthReq carries access token + account id.
type AccountAuthReq struct {
	AccessToken string
	AccountID   string
}

func (m AccountAuthReq) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.AccessToken)
	b = appendString(b, 2, m.AccountID)
	return b
}

// AccountAuthRes is an empty ack.
type AccountAuthRes struct{}

func (AccountAuthRes) Marshal() []byte { return nil }

// SymbolsListReq requests the full tradable symbol list.
type SymbolsListReq struct{}

func (SymbolsListReq) Marshal() []byte { return nil }

// SymbolInfo is one entry of SymbolsListRes.
type SymbolInfo struct {
	ID   int64
	Name string
}

// SymbolsListRes is the broker's symbol catalogue.
type SymbolsListRes struct {
	Symbols []SymbolInfo
}

func UnmarshalSymbolsListRes(b []byte) (SymbolsListRes, error) {
	var m SymbolsListRes
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != 1 {
			return nil
		}
		sym, err := unmarshalSymbolInfo(v)
		if err != nil {
			return err
		}
		m.Symbols = append(m.Symbols, sym)
		return nil
	})
	return m, err
}

func unmarshalSymbolInfo(b []byte) (SymbolInfo, error) {
	var s SymbolInfo
	return s, walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			n, _ := protowire.ConsumeVarint(v)
			s.ID = int64(n)
		case 2:
			s.Name = string(v)
		}
		return nil
	})
}

// MarshalSymbolsListRes encodes a symbol list response; split out since
// SymbolInfo is only ever nested, kept for symmetry/tests building
// synthetic responses.
func MarshalSymbolsListRes(symbols []SymbolInfo) []byte {
	var b []byte
	for _, s := range symbols {
		var inner []byte
		inner = appendVarint(inner, 1, uint64(s.ID))
		inner = appendStringField(inner, 2, s.Name)
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	}
	return b
}

// SymbolByIDReq requests metadata for one symbol.
type SymbolByIDReq struct {
	SymbolID int64
}

func (m SymbolByIDReq) Marshal() []byte {
	return appendVarint(nil, 1, uint64(m.SymbolID))
}

// SymbolByIDRes is the symbol's precision/volume/distance metadata.
type SymbolByIDRes struct {
	SymbolID         int64
	PriceDigits      int32
	PipPosition      int32
	MinVolume        float64
	VolumeStep       float64
	MinDistancePrice float64
}

func (m SymbolByIDRes) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.SymbolID))
	b = appendVarint(b, 2, uint64(m.PriceDigits))
	b = appendVarint(b, 3, uint64(m.PipPosition))
	b = appendDouble(b, 4, m.MinVolume)
	b = appendDouble(b, 5, m.VolumeStep)
	b = appendDouble(b, 6, m.MinDistancePrice)
	return b
}

func UnmarshalSymbolByIDRes(b []byte) (SymbolByIDRes, error) {
	var m SymbolByIDRes
	return m, walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			n, _ := protowire.ConsumeVarint(v)
			m.SymbolID = int64(n)
		case 2:
			n, _ := protowire.ConsumeVarint(v)
			m.PriceDigits = int32(n)
		case 3:
			n, _ := protowire.ConsumeVarint(v)
			m.PipPosition = int32(n)
		case 4:
			f, _ := protowire.ConsumeFixed64(v)
			m.MinVolume = fixed64ToFloat(f)
		case 5:
			f, _ := protowire.ConsumeFixed64(v)
			m.VolumeStep = fixed64ToFloat(f)
		case 6:
			f, _ := protowire.ConsumeFixed64(v)
			m.MinDistancePrice = fixed64ToFloat(f)
		}
		return nil
	})
}

// SubscribeSpotsReq subscribes to spot events for a symbol set. The
// timestamp-inclusion flag must be identical on initial subscribe and every
// reconnect-resubscribe.
type SubscribeSpotsReq struct {
	SymbolIDs         []int64
	IncludeTimestamp  bool
}

func (m SubscribeSpotsReq) Marshal() []byte {
	var b []byte
	for _, id := range m.SymbolIDs {
		b = appendVarint(b, 1, uint64(id))
	}
	b = appendBool(b, 2, m.IncludeTimestamp)
	return b
}

func UnmarshalSubscribeSpotsReq(b []byte) (SubscribeSpotsReq, error) {
	var m SubscribeSpotsReq
	return m, walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			n, _ := protowire.ConsumeVarint(v)
			m.SymbolIDs = append(m.SymbolIDs, int64(n))
		case 2:
			n, _ := protowire.ConsumeVarint(v)
			m.IncludeTimestamp = n != 0
		}
		return nil
	})
}

// SubscribeSpotsRes is an empty ack.
type SubscribeSpotsRes struct{}

// SpotEvent carries a price update for a subscribed symbol.
type SpotEvent struct {
	SymbolID       int64
	Bid            float64
	Ask            float64
	TimestampMicro int64 // 0 if not included
}

func (m SpotEvent) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.SymbolID))
	b = appendDouble(b, 2, m.Bid)
	b = appendDouble(b, 3, m.Ask)
	if m.TimestampMicro != 0 {
		b = appendVarint(b, 4, uint64(m.TimestampMicro))
	}
	return b
}

func UnmarshalSpotEvent(b []byte) (SpotEvent, error) {
	var m SpotEvent
	return m, walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			n, _ := protowire.ConsumeVarint(v)
			m.SymbolID = int64(n)
		case 2:
			f, _ := protowire.ConsumeFixed64(v)
			m.Bid = fixed64ToFloat(f)
		case 3:
			f, _ := protowire.ConsumeFixed64(v)
			m.Ask = fixed64ToFloat(f)
		case 4:
			n, _ := protowire.ConsumeVarint(v)
			m.TimestampMicro = int64(n)
		}
		return nil
	})
}

// NewOrderReq places a market order with relative TP/SL distances, per the
// broker protocol's convention for such orders.
type NewOrderReq struct {
	SymbolID            int64
	Side                int32 // 0 = buy, 1 = sell
	Volume              float64
	RelativeTakeProfit  float64 // price distance from expected fill, same sign convention as side
	RelativeStopLoss    float64
}

func (m NewOrderReq) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.SymbolID))
	b = appendVarint(b, 2, uint64(m.Side))
	b = appendDouble(b, 3, m.Volume)
	b = appendDouble(b, 4, m.RelativeTakeProfit)
	b = appendDouble(b, 5, m.RelativeStopLoss)
	return b
}

func UnmarshalNewOrderReq(b []byte) (NewOrderReq, error) {
	var m NewOrderReq
	return m, walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			n, _ := protowire.ConsumeVarint(v)
			m.SymbolID = int64(n)
		case 2:
			n, _ := protowire.ConsumeVarint(v)
			m.Side = int32(n)
		case 3:
			f, _ := protowire.ConsumeFixed64(v)
			m.Volume = fixed64ToFloat(f)
		case 4:
			f, _ := protowire.ConsumeFixed64(v)
			m.RelativeTakeProfit = fixed64ToFloat(f)
		case 5:
			f, _ := protowire.ConsumeFixed64(v)
			m.RelativeStopLoss = fixed64ToFloat(f)
		}
		return nil
	})
}

// ExecutionType classifies an ExecutionEvent.
type ExecutionType int32

const (
	ExecutionFilled  ExecutionType = 0
	ExecutionPartial ExecutionType = 1
	ExecutionClosed  ExecutionType = 2
)

// ExecutionEvent is a broker notification about fill/partial/close.
// Side uses the same encoding as NewOrderReq.Side; an out-of-range
// value is a broker quirk callers must skip rather than default to Buy.
type ExecutionEvent struct {
	BrokerPositionID string
	SymbolID         int64
	Side             int32
	Volume           float64
	Price            float64
	Type             ExecutionType
}

func (m ExecutionEvent) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.BrokerPositionID)
	b = appendVarint(b, 2, uint64(m.SymbolID))
	b = appendVarint(b, 3, uint64(m.Side))
	b = appendDouble(b, 4, m.Volume)
	b = appendDouble(b, 5, m.Price)
	b = appendVarint(b, 6, uint64(m.Type))
	return b
}

func UnmarshalExecutionEvent(b []byte) (ExecutionEvent, error) {
	var m ExecutionEvent
	return m, walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			m.BrokerPositionID = string(v)
		case 2:
			n, _ := protowire.ConsumeVarint(v)
			m.SymbolID = int64(n)
		case 3:
			n, _ := protowire.ConsumeVarint(v)
			m.Side = int32(n)
		case 4:
			f, _ := protowire.ConsumeFixed64(v)
			m.Volume = fixed64ToFloat(f)
		case 5:
			f, _ := protowire.ConsumeFixed64(v)
			m.Price = fixed64ToFloat(f)
		case 6:
			n, _ := protowire.ConsumeVarint(v)
			m.Type = ExecutionType(n)
		}
		return nil
	})
}

// OrderErrorEvent is the order-specific error the router must also fail
// waiters fast on.
type OrderErrorEvent struct {
	Code        string
	Description string
}

func UnmarshalOrderErrorEvent(b []byte) (OrderErrorEvent, error) {
	var m OrderErrorEvent
	return m, walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			m.Code = string(v)
		case 2:
			m.Description = string(v)
		}
		return nil
	})
}

// ClosePositionReq requests the broker close an open position outright.
type ClosePositionReq struct {
	BrokerPositionID string
	Volume           float64
}

func (m ClosePositionReq) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.BrokerPositionID)
	b = appendDouble(b, 2, m.Volume)
	return b
}

// HeartbeatEvent is an empty keepalive payload, always constructed fresh.
type HeartbeatEvent struct{}

func (HeartbeatEvent) Marshal() []byte { return nil }

// ReconcileReq asks the broker for the account's current open positions, the
// broker-side half of the reconciliation pass.
type ReconcileReq struct{}

func (ReconcileReq) Marshal() []byte { return nil }

// PositionInfo is one open position as reported by the broker.
type PositionInfo struct {
	BrokerPositionID string
	SymbolID         int64
	Side             int32
	Volume           float64
	EntryPrice       float64
	StopLossPrice    float64
	TakeProfitPrice  float64
}

// ReconcileRes is the broker's current open-position snapshot.
type ReconcileRes struct {
	Positions []PositionInfo
}

func UnmarshalReconcileRes(b []byte) (ReconcileRes, error) {
	var m ReconcileRes
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != 1 {
			return nil
		}
		p, err := unmarshalPositionInfo(v)
		if err != nil {
			return err
		}
		m.Positions = append(m.Positions, p)
		return nil
	})
	return m, err
}

func unmarshalPositionInfo(b []byte) (PositionInfo, error) {
	var p PositionInfo
	return p, walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case 1:
			p.BrokerPositionID = string(v)
		case 2:
			n, _ := protowire.ConsumeVarint(v)
			p.SymbolID = int64(n)
		case 3:
			n, _ := protowire.ConsumeVarint(v)
			p.Side = int32(n)
		case 4:
			f, _ := protowire.ConsumeFixed64(v)
			p.Volume = fixed64ToFloat(f)
		case 5:
			f, _ := protowire.ConsumeFixed64(v)
			p.EntryPrice = fixed64ToFloat(f)
		case 6:
			f, _ := protowire.ConsumeFixed64(v)
			p.StopLossPrice = fixed64ToFloat(f)
		case 7:
			f, _ := protowire.ConsumeFixed64(v)
			p.TakeProfitPrice = fixed64ToFloat(f)
		}
		return nil
	})
}

// MarshalReconcileRes encodes a reconcile response; split out for tests
// building synthetic broker responses, symmetric with MarshalSymbolsListRes.
func MarshalReconcileRes(positions []PositionInfo) []byte {
	var b []byte
	for _, p := range positions {
		var inner []byte
		inner = appendString(inner, 1, p.BrokerPositionID)
		inner = appendVarint(inner, 2, uint64(p.SymbolID))
		inner = appendVarint(inner, 3, uint64(p.Side))
		inner = appendDouble(inner, 4, p.Volume)
		inner = appendDouble(inner, 5, p.EntryPrice)
		inner = appendDouble(inner, 6, p.StopLossPrice)
		inner = appendDouble(inner, 7, p.TakeProfitPrice)
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	}
	return b
}

// --- shared low-level helpers -------------------------------------------------

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	return appendString(b, num, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, floatToFixed64(v))
}

func floatToFixed64(f float64) uint64 {
	return math.Float64bits(f)
}

func fixed64ToFloat(u uint64) float64 {
	return math.Float64frombits(u)
}

// walkFields iterates the top-level fields of a protobuf message body,
// invoking fn with the raw (not length-delimited-stripped-twice) value
// bytes for each field.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("wire: malformed tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		var value []byte
		var consumed int
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("wire: malformed varint field %d: %w", num, protowire.ParseError(n))
			}
			value = protowire.AppendVarint(nil, v)
			consumed = n
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return fmt.Errorf("wire: malformed fixed64 field %d: %w", num, protowire.ParseError(n))
			}
			value = protowire.AppendFixed64(nil, v)
			consumed = n
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("wire: malformed bytes field %d: %w", num, protowire.ParseError(n))
			}
			value = v
			consumed = n
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return fmt.Errorf("wire: malformed fixed32 field %d: %w", num, protowire.ParseError(n))
			}
			value = protowire.AppendFixed32(nil, v)
			consumed = n
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("wire: malformed field %d: %w", num, protowire.ParseError(n))
			}
			consumed = n
		}

		if err := fn(num, typ, value); err != nil {
			return err
		}
		b = b[consumed:]
	}
	return nil
}

