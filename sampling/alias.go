package sampling

import (
	"math"
	"math/rand"
)

// aliasCell 是 Walker 别名表的一格：以 prob 留在本格，否则跳到 alias。
type aliasCell struct {
	prob  float64
	alias int
}

// buildAliasTable 按 weight^power 建别名表，支持 O(1) 加权采样。
// 全零权重退化为均匀分布。
func buildAliasTable(weights []float64, power float64) []aliasCell {
	n := len(weights)
	if n == 0 {
		return nil
	}
	table := make([]aliasCell, n)

	sum := 0.0
	norm := make([]float64, n)
	for i, w := range weights {
		if w > 0 {
			norm[i] = math.Pow(w, power)
		}
		sum += norm[i]
	}
	if sum == 0 {
		for i := range table {
			table[i] = aliasCell{prob: 1.0, alias: i}
		}
		return table
	}
	for i := range norm {
		norm[i] = norm[i] * float64(n) / sum
	}

	small := make([]int, 0, n)
	large := make([]int, 0, n)
	for i, p := range norm {
		if p < 1.0 {
			small = append(small, i)
		} else {
			large = append(large, i)
		}
	}

	for len(small) > 0 && len(large) > 0 {
		l := small[len(small)-1]
		small = small[:len(small)-1]
		g := large[len(large)-1]
		large = large[:len(large)-1]

		table[l] = aliasCell{prob: norm[l], alias: g}

		norm[g] = norm[g] + norm[l] - 1.0
		if norm[g] < 1.0 {
			small = append(small, g)
		} else {
			large = append(large, g)
		}
	}
	for len(large) > 0 {
		g := large[len(large)-1]
		large = large[:len(large)-1]
		table[g] = aliasCell{prob: 1.0, alias: g}
	}
	for len(small) > 0 {
		l := small[len(small)-1]
		small = small[:len(small)-1]
		table[l] = aliasCell{prob: 1.0, alias: l}
	}
	return table
}

// sampleAlias 从别名表里采一个下标。
func sampleAlias(table []aliasCell, rng *rand.Rand) int {
	if len(table) == 0 {
		return -1
	}
	var i int
	var r float64
	if rng != nil {
		i = rng.Intn(len(table))
		r = rng.Float64()
	} else {
		i = rand.Intn(len(table))
		r = rand.Float64()
	}
	if r < table[i].prob {
		return i
	}
	return table[i].alias
}
