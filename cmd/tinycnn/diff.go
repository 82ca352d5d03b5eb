package main

import (
	"context"
	"fmt"
	"math"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tinycnn/internal/blob"
	"github.com/samcharles93/tinycnn/internal/model"
)

type diffStats struct {
	Elems       int
	MaxAbs      float64
	MaxAt       int
	MeanAbs     float64
	RMSE        float64
	Cosine      float64
	Top1A       int
	Top1B       int
	TopOverlap  int
	TopK        int
	NonFiniteAt int
}

// compareVectors summarises how far b is from a. NaN or Inf in either input
// makes MaxAbs +Inf and records the first such index; otherwise NonFiniteAt is -1.
func compareVectors(a, b []float32, k int) (diffStats, error) {
	if len(a) != len(b) {
		return diffStats{}, fmt.Errorf("length mismatch: %d vs %d elements", len(a), len(b))
	}
	s := diffStats{Elems: len(a), NonFiniteAt: -1, TopK: min(k, len(a))}
	if len(a) == 0 {
		return s, nil
	}
	var sumAbs, sumSq, dot, normA, normB float64
	for i := range a {
		da, db := float64(a[i]), float64(b[i])
		d := math.Abs(da - db)
		if math.IsNaN(d) || math.IsInf(d, 0) {
			if s.NonFiniteAt < 0 {
				s.NonFiniteAt = i
			}
			s.MaxAbs, s.MaxAt = math.Inf(1), i
			continue
		}
		sumAbs += d
		sumSq += d * d
		if d > s.MaxAbs {
			s.MaxAbs, s.MaxAt = d, i
		}
		dot += da * db
		normA += da * da
		normB += db * db
	}
	n := float64(len(a))
	s.MeanAbs = sumAbs / n
	s.RMSE = math.Sqrt(sumSq / n)
	if normA > 0 && normB > 0 {
		s.Cosine = dot / (math.Sqrt(normA) * math.Sqrt(normB))
	}

	ta, tb := model.Top(a, s.TopK), model.Top(b, s.TopK)
	s.Top1A, s.Top1B = ta[0].Class, tb[0].Class
	seen := make(map[int]bool, len(ta))
	for _, p := range ta {
		seen[p.Class] = true
	}
	for _, p := range tb {
		if seen[p.Class] {
			s.TopOverlap++
		}
	}
	return s, nil
}

func diffCmd() *cli.Command {
	var (
		topK  int64
		check bool
	)

	return &cli.Command{
		Name:      "diff",
		Usage:     "Compare two raw float32 blobs",
		ArgsUsage: "<a.bin> <b.bin>",
		Flags: []cli.Flag{
			epsilonFlag(),
			&cli.Int64Flag{
				Name:        "top",
				Aliases:     []string{"k"},
				Usage:       "top-k overlap to report",
				Value:       5,
				Destination: &topK,
			},
			&cli.BoolFlag{
				Name:        "check",
				Usage:       "fail when the max abs diff exceeds --epsilon",
				Destination: &check,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 2 {
				return fmt.Errorf("diff takes exactly two blobs, got %d", cmd.Args().Len())
			}
			pathA, pathB := cmd.Args().Get(0), cmd.Args().Get(1)
			a, err := blob.ReadFloats(pathA)
			if err != nil {
				return err
			}
			b, err := blob.ReadFloats(pathB)
			if err != nil {
				return err
			}
			s, err := compareVectors(a, b, max(int(topK), 1))
			if err != nil {
				return fmt.Errorf("%s vs %s: %w", pathA, pathB, err)
			}

			w := stdout(cmd)
			fmt.Fprintf(w, "elems=%d max_abs=%.6g at %d mean_abs=%.6g rmse=%.6g cos=%.6f\n",
				s.Elems, s.MaxAbs, s.MaxAt, s.MeanAbs, s.RMSE, s.Cosine)
			fmt.Fprintf(w, "top1 a=%d b=%d match=%t top%d overlap=%d\n",
				s.Top1A, s.Top1B, s.Top1A == s.Top1B, s.TopK, s.TopOverlap)
			if s.NonFiniteAt >= 0 {
				fmt.Fprintf(w, "first non-finite difference at %d\n", s.NonFiniteAt)
			}
			if check && s.MaxAbs > epsilon {
				return fmt.Errorf("max abs diff %g exceeds %g", s.MaxAbs, epsilon)
			}
			return nil
		},
	}
}
