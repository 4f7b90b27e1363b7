package mmr

import (
	"fmt"
	"testing"
)

func benchHash(i int) [32]byte {
	var h [32]byte
	copy(h[:], fmt.Sprintf("bench-%08d", i))
	return h
}

func BenchmarkAppendCheckpoint(b *testing.B) {
	m, _ := New(NewMemoryStore())
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.AppendCheckpoint(benchHash(i)); err != nil {
			b.Fatalf("append: %v", err)
		}
	}
}

func BenchmarkGenerateProof(b *testing.B) {
	for _, leaves := range []int{100, 1000, 10000} {
		b.Run(fmt.Sprintf("leaves_%d", leaves), func(b *testing.B) {
			m, _ := New(NewMemoryStore())
			for i := 0; i < leaves; i++ {
				m.AppendCheckpoint(benchHash(i))
			}
			idx, _ := m.GetLeafIndex(uint64(leaves / 2))
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := m.GenerateProof(idx); err != nil {
					b.Fatalf("proof: %v", err)
				}
			}
		})
	}
}

func BenchmarkVerifyProof(b *testing.B) {
	m, _ := New(NewMemoryStore())
	for i := 0; i < 1000; i++ {
		m.AppendCheckpoint(benchHash(i))
	}
	idx, _ := m.GetLeafIndex(500)
	proof, _ := m.GenerateProof(idx)
	h := benchHash(500)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := proof.Verify(h[:]); err != nil {
			b.Fatalf("verify: %v", err)
		}
	}
}

func BenchmarkRoot(b *testing.B) {
	m, _ := New(NewMemoryStore())
	for i := 0; i < 1000; i++ {
		m.AppendCheckpoint(benchHash(i))
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.GetRoot(); err != nil {
			b.Fatalf("root: %v", err)
		}
	}
}

func BenchmarkGeometry(b *testing.B) {
	b.Run("findPeaks", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			findPeaks(1 << 20)
		}
	})
	b.Run("leafCountFromSize", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			leafCountFromSize(1 << 20)
		}
	})
}
