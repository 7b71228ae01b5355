package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"riskpilot/internal/domain/models"
	drepo "riskpilot/internal/domain/repository"

	"github.com/gorilla/websocket"
)

// Stream implements a MarketStream backed by the Binance futures combined
// stream endpoint. Each symbol is subscribed to aggTrade for tick prices and
// miniTicker for rolling 24h stats.
type Stream struct {
	wsURL          string
	symbols        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	subID     int
}

// NewStream creates a Binance futures MarketStream.
func NewStream(wsURL string, symbols []string, reconnectDelay, pingInterval time.Duration) drepo.MarketStream {
	return &Stream{
		wsURL:          wsURL,
		symbols:        symbols,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
	}
}

// Connect establishes the WebSocket connection.
func (s *Stream) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("exchange connect: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	log.Printf("exchange: connected to %s", s.wsURL)
	return nil
}

type wsSubscribe struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// Subscribe subscribes to the tick and ticker streams of all configured
// symbols in a single frame.
func (s *Stream) Subscribe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || !s.connected {
		return fmt.Errorf("exchange not connected")
	}

	params := make([]string, 0, len(s.symbols)*2)
	for _, sym := range s.symbols {
		lower := strings.ToLower(sym)
		params = append(params, lower+"@aggTrade", lower+"@miniTicker")
	}
	s.subID++
	msg := wsSubscribe{Method: "SUBSCRIBE", Params: params, ID: s.subID}
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	log.Printf("exchange: subscribed %d streams", len(params))
	return nil
}

type wsEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type wsAggTrade struct {
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"` // ms
}

type wsMiniTicker struct {
	EventTime int64  `json:"E"` // ms
	Symbol    string `json:"s"`
	Close     string `json:"c"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
}

// Read streams ticks and errors. The tick channel is buffered; frames are
// dropped rather than blocking the read loop when the consumer lags.
func (s *Stream) Read(ctx context.Context) (<-chan *models.Tick, <-chan error) {
	ticks := make(chan *models.Tick, 1024)
	errs := make(chan error, 1)

	// ping loop; WriteControl is safe alongside the subscribe writer
	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				conn := s.conn
				s.mu.Unlock()
				if conn != nil {
					_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
				}
			}
		}
	}()

	go func() {
		defer close(ticks)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				s.mu.Lock()
				conn := s.conn
				s.mu.Unlock()
				if conn == nil {
					errs <- fmt.Errorf("exchange conn nil")
					return
				}
				_, b, err := conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("exchange read: %w", err)
					return
				}
				tick := parseFrame(b)
				if tick == nil {
					continue
				}
				select {
				case ticks <- tick:
				default:
					// drop on backpressure
				}
			}
		}
	}()

	return ticks, errs
}

// parseFrame converts a combined-stream frame into a Tick, or nil for
// control frames and unknown streams.
func parseFrame(b []byte) *models.Tick {
	var env wsEnvelope
	if err := json.Unmarshal(b, &env); err != nil || len(env.Data) == 0 {
		return nil
	}

	switch {
	case strings.HasSuffix(env.Stream, "@aggTrade"):
		var t wsAggTrade
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return nil
		}
		return &models.Tick{
			Symbol:    t.Symbol,
			Price:     ParseFloatOrZero(t.Price),
			Qty:       ParseFloatOrZero(t.Quantity),
			Timestamp: t.TradeTime / 1000,
		}
	case strings.HasSuffix(env.Stream, "@miniTicker"):
		var t wsMiniTicker
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return nil
		}
		return &models.Tick{
			Symbol:    t.Symbol,
			Price:     ParseFloatOrZero(t.Close),
			Timestamp: t.EventTime / 1000,
			Stats: &models.TickStats{
				Open24h:   ParseFloatOrZero(t.Open),
				High24h:   ParseFloatOrZero(t.High),
				Low24h:    ParseFloatOrZero(t.Low),
				Volume24h: ParseFloatOrZero(t.Volume),
			},
		}
	default:
		return nil
	}
}

// Reconnect closes and reconnects.
func (s *Stream) Reconnect(ctx context.Context) error {
	_ = s.Close()
	time.Sleep(s.reconnectDelay)
	if err := s.Connect(ctx); err != nil {
		return err
	}
	return s.Subscribe(ctx)
}

// Close closes the WS connection.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (s *Stream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}
