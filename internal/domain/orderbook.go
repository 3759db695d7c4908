package domain

import (
	"strconv"
	"time"
)

// OrderBook representa el libro de órdenes de un token.
type OrderBook struct {
	TokenID string
	Bids    []BookEntry // ordenados mayor a menor precio
	Asks    []BookEntry // ordenados menor a mayor precio
}

// BookEntry es un nivel de precio en el orderbook.
type BookEntry struct {
	Price float64
	Size  float64
}

// BestBid devuelve el mejor precio de compra (mayor bid).
// Devuelve 0 si el book está vacío.
func (ob OrderBook) BestBid() float64 {
	if len(ob.Bids) == 0 {
		return 0
	}
	return ob.Bids[0].Price
}

// BestAsk devuelve el mejor precio de venta (menor ask).
// Devuelve 0 si el book está vacío.
func (ob OrderBook) BestAsk() float64 {
	if len(ob.Asks) == 0 {
		return 0
	}
	return ob.Asks[0].Price
}

// AskVolume suma las shares disponibles en el lado ask.
func (ob OrderBook) AskVolume() float64 {
	var total float64
	for _, a := range ob.Asks {
		total += a.Size
	}
	return total
}

// Depth resume el top of book de un token tal como lo consume el pipeline.
func (ob OrderBook) Depth() Depth {
	return Depth{
		TopBid:       ob.BestBid(),
		TopAsk:       ob.BestAsk(),
		HasLiquidity: len(ob.Asks) > 0,
		AskVolume:    ob.AskVolume(),
	}
}

// Depth es la respuesta de getOrderbookDepth.
type Depth struct {
	TopBid       float64
	TopAsk       float64
	HasLiquidity bool
	AskVolume    float64
}

// Book es el top of book de ambos lados de un mercado.
// Un precio 0 significa "desconocido".
type Book struct {
	UpBid     float64
	UpAsk     float64
	DownBid   float64
	DownAsk   float64
	UpdatedAt time.Time
}

// Ask devuelve el best ask del lado pedido.
func (b Book) Ask(o Outcome) float64 {
	if o == OutcomeUp {
		return b.UpAsk
	}
	return b.DownAsk
}

// Bid devuelve el best bid del lado pedido.
func (b Book) Bid(o Outcome) float64 {
	if o == OutcomeUp {
		return b.UpBid
	}
	return b.DownBid
}

// CombinedAsk es UpAsk + DownAsk, o 0 si falta algún lado.
func (b Book) CombinedAsk() float64 {
	if b.UpAsk <= 0 || b.DownAsk <= 0 {
		return 0
	}
	return b.UpAsk + b.DownAsk
}

// Set actualiza bid/ask de un lado. Los valores <= 0 no pisan el precio previo.
func (b *Book) Set(o Outcome, bid, ask float64, at time.Time) {
	if o == OutcomeUp {
		if bid > 0 {
			b.UpBid = bid
		}
		if ask > 0 {
			b.UpAsk = ask
		}
	} else {
		if bid > 0 {
			b.DownBid = bid
		}
		if ask > 0 {
			b.DownAsk = ask
		}
	}
	if at.After(b.UpdatedAt) {
		b.UpdatedAt = at
	}
}

// Age devuelve la antigüedad del book. Un book nunca actualizado es infinitamente viejo.
func (b Book) Age(now time.Time) time.Duration {
	if b.UpdatedAt.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(b.UpdatedAt)
}

// ParsePrice convierte un string de precio a float64.
// Usado en el mapping de la API.
func ParsePrice(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
