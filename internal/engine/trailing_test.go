package engine

import (
	"testing"

	"riskpilot/internal/domain/models"
)

func TestTrailWidthTiers(t *testing.T) {
	cfg := testCfg()
	params := cfg.Ranging

	cases := []struct {
		name string
		peak float64
		want float64
	}{
		{"below arming stays pinned", 0.004, 0.007},
		{"armed below first tier", 0.008, 0.007},
		{"low tier", 0.012, 0.007 * 1.2},
		{"medium tier", 0.025, 0.007 * 1.6},
		{"high tier", 0.06, 0.007 * 2.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := trailWidth(cfg, params, tc.peak)
			if !close64(got, tc.want) {
				t.Fatalf("trailWidth(%v) = %v, want %v", tc.peak, got, tc.want)
			}
		})
	}
}

func TestTrailWidthCappedAtMax(t *testing.T) {
	cfg := testCfg()
	params := cfg.Ranging
	params.InitialTrail = 0.015

	got := trailWidth(cfg, params, 0.06)
	if got != params.MaxTrail {
		t.Fatalf("trailWidth = %v, want cap %v", got, params.MaxTrail)
	}
}

func TestEffectiveTrail(t *testing.T) {
	cfg := testCfg()

	t.Run("no widening without profit", func(t *testing.T) {
		got := effectiveTrail(cfg, 0.01, -0.005, Env{Regime: models.RegimeTrending})
		if got != 0.01 {
			t.Fatalf("trail = %v, want unchanged 0.01", got)
		}
	})
	t.Run("no widening off trend", func(t *testing.T) {
		got := effectiveTrail(cfg, 0.01, 0.02, Env{Regime: models.RegimeRanging, TrendStrength: 10})
		if got != 0.01 {
			t.Fatalf("trail = %v, want unchanged 0.01", got)
		}
	})
	t.Run("trending regime widens", func(t *testing.T) {
		got := effectiveTrail(cfg, 0.01, 0.02, Env{Regime: models.RegimeTrending})
		if !close64(got, 0.015) {
			t.Fatalf("trail = %v, want 0.015", got)
		}
	})
	t.Run("trend strength widens", func(t *testing.T) {
		got := effectiveTrail(cfg, 0.01, 0.02, Env{Regime: models.RegimeRanging, TrendStrength: 50})
		if !close64(got, 0.015) {
			t.Fatalf("trail = %v, want 0.015", got)
		}
	})
	t.Run("high profit compresses", func(t *testing.T) {
		got := effectiveTrail(cfg, 0.01, 0.08, Env{Regime: models.RegimeTrending})
		if !close64(got, 0.015/1.15) {
			t.Fatalf("trail = %v, want %v", got, 0.015/1.15)
		}
	})
}

func TestStopPriceAndCross(t *testing.T) {
	stop := stopPrice(models.SideLong, 52000, 0.014)
	if !close64(stop, 51272) {
		t.Fatalf("long stop = %v, want 51272", stop)
	}
	if !crossed(models.SideLong, 51272, stop) {
		t.Fatal("touching the stop must count as crossed")
	}
	if crossed(models.SideLong, 51300, stop) {
		t.Fatal("price above long stop must not cross")
	}

	stop = stopPrice(models.SideShort, 48000, 0.014)
	if !close64(stop, 48672) {
		t.Fatalf("short stop = %v, want 48672", stop)
	}
	if !crossed(models.SideShort, 48700, stop) {
		t.Fatal("price above short stop must cross")
	}
	if crossed(models.SideShort, 48600, stop) {
		t.Fatal("price below short stop must not cross")
	}
}

func close64(got, want float64) bool {
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-6
}
