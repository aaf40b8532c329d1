package config

import "dtcsim/internal/profile"

// BuildProfile translates the on-disk ProfileConfig into an immutable
// profile.Profile, applying the single-value defaulting rules (60/40 delay
// split, 50/50 loss split) at the single point that owns them.
func (pc ProfileConfig) BuildProfile() profile.Profile {
	return profile.New(pc.Delay.build(), pc.Loss.build(), pc.Bandwidth.build())
}

func (dc DelayConfig) build() profile.DelayConfig {
	if len(dc.Percentiles) > 0 {
		points := make([]profile.PctPoint, len(dc.Percentiles))
		for i, p := range dc.Percentiles {
			up, down := p.Up, p.Down
			if up == 0 && down == 0 {
				up, down = p.Ms, p.Ms
			}
			points[i] = profile.PctPoint{P: p.P, Up: up, Down: down}
		}
		return profile.NewPercentileDelay(points)
	}
	if dc.UpMs != 0 || dc.DownMs != 0 {
		return profile.NewSplitFixedDelay(dc.UpMs, dc.DownMs)
	}
	return profile.NewFixedDelay(dc.FixedMs)
}

func (lc LossConfig) build() profile.LossConfig {
	if lc.Up != 0 || lc.Down != 0 {
		return profile.NewSplitLoss(lc.Up, lc.Down)
	}
	return profile.NewSymmetricLoss(lc.Percent)
}

func (bc BandwidthConfig) build() profile.BandwidthConfig {
	return profile.BandwidthConfig{Enabled: bc.Enabled, KbpsUp: bc.KbpsUp, KbpsDown: bc.KbpsDown}
}
