package evidence

import (
	"crypto/rand"
	"crypto/sha256"
	"testing"
	"time"

	"witnessd/internal/checkpoint"
	"witnessd/internal/fingerprint"
	"witnessd/internal/vdf"
)

// createBenchCheckpointChain creates a checkpoint chain for benchmarking.
func createBenchCheckpointChain(numCheckpoints int, documentPath string) *checkpoint.Chain {
	params := vdf.DefaultParameters()
	params.MinIterations = 100
	params.IterationsPerSecond = 1000000

	chain := &checkpoint.Chain{
		DocumentPath: documentPath,
		VDFParams:    params,
		Checkpoints:  make([]*checkpoint.Checkpoint, 0, numCheckpoints),
	}

	var prevHash [32]byte
	for i := 0; i < numCheckpoints; i++ {
		var contentHash [32]byte
		rand.Read(contentHash[:])

		cp := &checkpoint.Checkpoint{
			Ordinal:      uint64(i),
			DocumentHash: contentHash,
			Timestamp:    time.Now().Add(time.Duration(i) * time.Minute),
			PreviousHash: prevHash,
		}

		vdfProof := vdf.ComputeIterations(contentHash, 100)
		cp.VDFInput = vdfProof.Input
		cp.VDFOutput = vdfProof.Output
		cp.VDFIterations = vdfProof.Iterations

		h := sha256.New()
		h.Write(cp.DocumentHash[:])
		h.Write(cp.PreviousHash[:])
		var buf [8]byte
		buf[0] = byte(cp.Ordinal)
		h.Write(buf[:])
		copy(cp.CheckpointHash[:], h.Sum(nil))

		chain.Checkpoints = append(chain.Checkpoints, cp)
		prevHash = cp.CheckpointHash
	}

	return chain
}

func BenchmarkEvidenceBuild(b *testing.B) {
	chain := createBenchCheckpointChain(50, "/tmp/bench.md")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := NewBuilder("bench.md", chain).Build()
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEvidenceVerify(b *testing.B) {
	chain := createBenchCheckpointChain(50, "/tmp/bench.md")
	packet, err := NewBuilder("bench.md", chain).Build()
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := packet.Verify(chain.VDFParams); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEvidenceEncode(b *testing.B) {
	chain := createBenchCheckpointChain(50, "/tmp/bench.md")
	packet, err := NewBuilder("bench.md", chain).Build()
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := packet.Encode(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEvidenceDecode(b *testing.B) {
	chain := createBenchCheckpointChain(50, "/tmp/bench.md")
	packet, err := NewBuilder("bench.md", chain).Build()
	if err != nil {
		b.Fatal(err)
	}
	data, err := packet.Encode()
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Decode(data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEvidenceHash(b *testing.B) {
	chain := createBenchCheckpointChain(50, "/tmp/bench.md")
	packet, err := NewBuilder("bench.md", chain).Build()
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		packet.Hash()
	}
}

func BenchmarkTotalElapsedTime(b *testing.B) {
	chain := createBenchCheckpointChain(50, "/tmp/bench.md")
	packet, err := NewBuilder("bench.md", chain).Build()
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		packet.TotalElapsedTime()
	}
}

func BenchmarkWithBehavioral(b *testing.B) {
	chain := createBenchCheckpointChain(50, "/tmp/bench.md")
	fp := &fingerprint.Fingerprint{SampleCount: 40, Confidence: 0.8}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := NewBuilder("bench.md", chain).WithBehavioral(fp).Build()
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkWithPolicy(b *testing.B) {
	chain := createBenchCheckpointChain(50, "/tmp/bench.md")
	policy := &AppraisalPolicy{
		URI:     "https://example.com/policy",
		Version: "1.0",
		Model:   WeightedAverage,
		Factors: []AppraisalFactor{
			{Name: "chain_integrity", Weight: 2, Score: 1.0},
			{Name: "anchors", Weight: 1, Score: 0.5},
		},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := NewBuilder("bench.md", chain).WithPolicy(policy).Build()
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkClaimGeneration(b *testing.B) {
	chain := createBenchCheckpointChain(50, "/tmp/bench.md")
	builder := NewBuilder("bench.md", chain)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		builder.packet.Claims = nil
		builder.generateClaims()
	}
}

func BenchmarkPacketSize(b *testing.B) {
	sizes := []int{1, 10, 100, 1000}
	for _, size := range sizes {
		b.Run(string(rune(size)), func(b *testing.B) {
			chain := createBenchCheckpointChain(size, "/tmp/bench.md")
			packet, err := NewBuilder("bench.md", chain).Build()
			if err != nil {
				b.Fatal(err)
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := packet.Encode(); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkConcurrentPacketCreation(b *testing.B) {
	chain := createBenchCheckpointChain(50, "/tmp/bench.md")

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := NewBuilder("bench.md", chain).Build(); err != nil {
				b.Fatal(err)
			}
		}
	})
}
