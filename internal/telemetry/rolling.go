package telemetry

// RollingAverage は直近 N 個のサンプルの移動平均を O(1) で求める
//
// sum は常に有効なサンプルの合計と等しい。count が N に達するまでは
// count で割る。ゴルーチン安全ではないので、1接続につき1つ使う。
type RollingAverage struct {
	samples []int
	cursor  int
	count   int
	sum     int
}

// NewRollingAverage は容量 n の RollingAverage を作成する。n < 1 は 1 として扱う
func NewRollingAverage(n int) *RollingAverage {
	if n < 1 {
		n = 1
	}
	return &RollingAverage{samples: make([]int, n)}
}

// Push はサンプルを追加し、整数除算による平均を返す
func (r *RollingAverage) Push(sample int) int {
	r.sum -= r.samples[r.cursor]
	r.samples[r.cursor] = sample
	r.sum += sample
	r.cursor = (r.cursor + 1) % len(r.samples)
	if r.count < len(r.samples) {
		r.count++
	}
	return r.sum / max(r.count, 1)
}

// Len は有効なサンプル数を返す
func (r *RollingAverage) Len() int {
	return r.count
}
