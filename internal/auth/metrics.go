package auth

// Metrics はログインと認証の結果を記録するインターフェース。
// metrics.Collectorが実装する。
type Metrics interface {
	RecordLoginStarted()
	RecordLoginCompleted(provider string)
	RecordLoginFailed(reason string)
	RecordAuthentication(result string)
}

type nopMetrics struct{}

func (nopMetrics) RecordLoginStarted() {}
func (nopMetrics) RecordLoginCompleted(string) {}
func (nopMetrics) RecordLoginFailed(string) {}
func (nopMetrics) RecordAuthentication(string) {}
