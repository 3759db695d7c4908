package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Outcome identifica uno de los dos lados de un mercado UP/DOWN.
type Outcome string

const (
	OutcomeUp   Outcome = "UP"
	OutcomeDown Outcome = "DOWN"
)

// Opposite devuelve el otro lado del mercado.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeUp {
		return OutcomeDown
	}
	return OutcomeUp
}

// ParseOutcome acepta UP/DOWN (también YES/NO como alias).
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UP", "YES":
		return OutcomeUp, nil
	case "DOWN", "NO":
		return OutcomeDown, nil
	}
	return "", fmt.Errorf("domain.ParseOutcome: unknown outcome %q", s)
}

// Timeframe es la duración de un periodo de mercado up/down.
type Timeframe string

const (
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
)

// Duration devuelve la duración del periodo. Cero si el timeframe no es válido.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	}
	return 0
}

// PeriodStart alinea now al inicio del periodo en curso.
func (tf Timeframe) PeriodStart(now time.Time) time.Time {
	d := tf.Duration()
	if d == 0 {
		return now
	}
	return now.UTC().Truncate(d)
}

// BuildSlug construye el slug de Polymarket: {asset}-updown-{tf}-{periodStartUnix}.
func BuildSlug(asset string, tf Timeframe, periodStart time.Time) string {
	return fmt.Sprintf("%s-updown-%s-%d", strings.ToLower(asset), tf, periodStart.Unix())
}

// ParseSlug descompone un slug up/down. ok=false si no sigue la convención.
func ParseSlug(slug string) (asset string, tf Timeframe, periodStart time.Time, ok bool) {
	parts := strings.Split(slug, "-")
	if len(parts) != 4 || parts[1] != "updown" {
		return "", "", time.Time{}, false
	}
	tf = Timeframe(parts[2])
	if tf.Duration() == 0 {
		return "", "", time.Time{}, false
	}
	ts, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil || ts <= 0 {
		return "", "", time.Time{}, false
	}
	return parts[0], tf, time.Unix(ts, 0).UTC(), true
}

// Market es un mercado binario UP/DOWN de corta duración.
type Market struct {
	Slug        string
	Asset       string // btc, eth, sol, xrp
	Timeframe   Timeframe
	ConditionID string
	UpTokenID   string
	DownTokenID string
	StartTime   time.Time
	EndTime     time.Time
	NegRisk     bool
}

// TokenID devuelve el token del lado pedido.
func (m Market) TokenID(o Outcome) string {
	if o == OutcomeUp {
		return m.UpTokenID
	}
	return m.DownTokenID
}

// OutcomeForToken resuelve a qué lado pertenece un token.
func (m Market) OutcomeForToken(tokenID string) (Outcome, bool) {
	switch tokenID {
	case m.UpTokenID:
		return OutcomeUp, true
	case m.DownTokenID:
		return OutcomeDown, true
	}
	return "", false
}

// SecondsRemaining devuelve los segundos hasta el vencimiento (negativo si ya venció).
func (m Market) SecondsRemaining(now time.Time) float64 {
	return m.EndTime.Sub(now).Seconds()
}

// Active indica si now está dentro de la ventana [StartTime, EndTime).
func (m Market) Active(now time.Time) bool {
	return !now.Before(m.StartTime) && now.Before(m.EndTime)
}
