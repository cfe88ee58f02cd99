package loan

// Config captures the runtime configuration for the loan module. The interest
// and commission coefficients are deployment parameters, not constants baked
// into the engine.
type Config struct {
	TermSeconds           uint64 `toml:"TermSeconds"`
	EscrowWindowSeconds   uint64 `toml:"EscrowWindowSeconds"`
	InterestRateBps       uint64 `toml:"InterestRateBps"`
	MinCollateralRatioBps uint64 `toml:"MinCollateralRatioBps"`
	CommissionBps         uint64 `toml:"CommissionBps"`
}

// Params derives the immutable engine parameters from the configuration.
func (c Config) Params() Params {
	return Params{
		TermSeconds:           c.TermSeconds,
		EscrowWindowSeconds:   c.EscrowWindowSeconds,
		MinCollateralRatioBps: c.MinCollateralRatioBps,
	}
}
