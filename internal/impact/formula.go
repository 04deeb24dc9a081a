package impact

import (
	"fmt"
	"math"

	"github.com/selivandex/newsimpact/pkg/models"
)

// Weights is the fixed impact formula. Price and volume moves are squashed
// with tanh(|x|/scale) so a move of one scale reaches ~0.76 of its weight.
type Weights struct {
	PriceScale   float64
	VolumeScale  float64
	PriceWeight  float64
	VolumeWeight float64
}

// Measurement is the price/volume change over one window
type Measurement struct {
	PriceChangePct  float64
	VolumeChangePct *float64
}

// Measure computes percent changes between two observations
func Measure(before, after *models.PricePoint) (Measurement, error) {
	if !before.Price.IsPositive() {
		return Measurement{}, fmt.Errorf("%w: non-positive price before window", models.ErrInsufficientPriceData)
	}

	pct, _ := models.PercentChange(before.Price, after.Price)
	m := Measurement{PriceChangePct: pct}

	if v, ok := models.PercentChange(before.Volume, after.Volume); ok && before.Volume.IsPositive() {
		m.VolumeChangePct = &v
	}
	return m, nil
}

// Score returns the sentiment-price correlation coefficient and the impact
// score. The coefficient is in [-1, 1]: positive when the sentiment sign
// predicted the price direction. The impact is the move magnitude times that
// alignment, so aligned large moves score highest and opposed moves go negative.
func Score(sentiment float64, m Measurement, w Weights) (coefficient, impact float64) {
	coefficient = sentiment * math.Tanh(m.PriceChangePct/w.PriceScale)

	magnitude := w.PriceWeight * math.Tanh(math.Abs(m.PriceChangePct)/w.PriceScale)
	if m.VolumeChangePct != nil && *m.VolumeChangePct > 0 {
		magnitude += w.VolumeWeight * math.Tanh(*m.VolumeChangePct/w.VolumeScale)
	}

	impact = magnitude * sentiment * sign(m.PriceChangePct)
	return coefficient, impact
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}
