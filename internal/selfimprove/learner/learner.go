// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package learner implements the Learner (C9): computes a reward for
// every terminal execution, tags a Lesson, and maintains per-variant
// rolling statistics.
package learner

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reasonloop/reasonloop/internal/selfimprove/executor"
	"github.com/reasonloop/reasonloop/internal/selfimprove/model"
)

const (
	defaultImprovementWeight = 0.7
	defaultMaxLessons        = 1000
)

// Stats is the rolling per-variant record the Supervisor/CLI query.
type Stats struct {
	Executions      int
	Successes       int
	MeanReward      float64
	ExpectedTotal   float64
	ActualTotal     float64
}

// Summary aggregates lessons and stats across all variants.
type Summary struct {
	TotalLessons int
	PerVariant   map[model.Variant]Stats
}

// Learner computes rewards and tags lessons from execution results.
type Learner struct {
	mu                sync.Mutex
	improvementWeight float64
	maxLessons        int
	lessons           []model.Lesson
	stats             map[model.Variant]*Stats
}

// New constructs a Learner, applying spec defaults for zero-value args.
func New(improvementWeight float64, maxLessons int) *Learner {
	if improvementWeight <= 0 {
		improvementWeight = defaultImprovementWeight
	}
	if maxLessons <= 0 {
		maxLessons = defaultMaxLessons
	}
	return &Learner{
		improvementWeight: improvementWeight,
		maxLessons:        maxLessons,
		stats:             make(map[model.Variant]*Stats),
	}
}

// Reward implements the exact formula of spec.md §4.9.
func Reward(success bool, expected, actual, improvementWeight float64) float64 {
	if !success {
		return -0.5
	}
	if expected <= 0 {
		return actual
	}
	ratio := actual / expected
	if ratio >= 1 {
		return clamp(-1, 1, (minFloat(ratio, 2)-1)*improvementWeight+0.5)
	}
	return clamp(-1, 1, (ratio-0.5)*improvementWeight)
}

func clamp(lo, hi, v float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Learn is called on every terminal (Completed/Failed) execution result
// and produces the resulting Lesson.
func (l *Learner) Learn(result executor.Result) model.Lesson {
	l.mu.Lock()
	defer l.mu.Unlock()

	action := result.Action
	reward := Reward(result.Success, action.ExpectedImprovement, result.ActualImprovement, l.improvementWeight)

	contexts := []string{string(action.Variant)}
	if result.Success {
		contexts = append(contexts, "successful")
	} else {
		contexts = append(contexts, "failed")
	}
	contexts = append(contexts, impactBucket(result.ActualImprovement))
	for k := range action.Parameters {
		contexts = append(contexts, "param:"+k)
	}

	lesson := model.Lesson{
		ID:        uuid.NewString(),
		ActionID:  action.ID,
		Insight:   insightFor(action, result, reward),
		Reward:    reward,
		Contexts:  contexts,
		CreatedAt: time.Now().UTC(),
	}

	l.lessons = append(l.lessons, lesson)
	if len(l.lessons) > l.maxLessons {
		l.lessons = l.lessons[len(l.lessons)-l.maxLessons:]
	}

	s, ok := l.stats[action.Variant]
	if !ok {
		s = &Stats{}
		l.stats[action.Variant] = s
	}
	s.Executions++
	if result.Success {
		s.Successes++
	}
	s.ExpectedTotal += action.ExpectedImprovement
	s.ActualTotal += result.ActualImprovement
	s.MeanReward += (reward - s.MeanReward) / float64(s.Executions)

	return lesson
}

func impactBucket(measured float64) string {
	switch {
	case measured > 0.2:
		return "high_impact"
	case measured > 0.1:
		return "medium_impact"
	default:
		return "low_impact"
	}
}

func insightFor(action *model.Action, result executor.Result, reward float64) string {
	if !result.Success {
		return fmt.Sprintf("%s failed to execute: %v", action.Variant, result.Err)
	}
	return fmt.Sprintf("%s yielded %.3f measured improvement against %.3f expected (reward %.3f)",
		action.Variant, result.ActualImprovement, action.ExpectedImprovement, reward)
}

// Summary returns the full lesson count and per-variant stats.
func (l *Learner) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	perVariant := make(map[model.Variant]Stats, len(l.stats))
	for v, s := range l.stats {
		perVariant[v] = *s
	}
	return Summary{TotalLessons: len(l.lessons), PerVariant: perVariant}
}

// StatsFor returns the rolling stats for one variant.
func (l *Learner) StatsFor(variant model.Variant) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.stats[variant]; ok {
		return *s
	}
	return Stats{}
}

// Lessons returns a copy of the current lesson list, oldest first.
func (l *Learner) Lessons() []model.Lesson {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Lesson, len(l.lessons))
	copy(out, l.lessons)
	return out
}
