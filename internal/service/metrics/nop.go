package metrics

import domrepo "riskpilot/internal/domain/repository"

// Nop returns a recorder that discards everything. Used in tests where
// registering Prometheus collectors would collide across cases.
func Nop() domrepo.Metrics { return nop{} }

type nop struct{}

func (nop) RecordTick(string)                         {}
func (nop) RecordThrottled(string)                    {}
func (nop) RecordCandleSealed(string, string)         {}
func (nop) RecordLastPrice(string, float64)           {}
func (nop) RecordRegime(string, string)               {}
func (nop) RecordRegimeSwitch(string, string, string) {}
func (nop) RecordClose(string, string)                {}
func (nop) RecordRejection(string)                    {}
func (nop) RecordMarginRatio(float64)                 {}
func (nop) RecordMarginLevel(int)                     {}
func (nop) RecordError(string)                        {}
func (nop) RecordLatency(string, float64)             {}
