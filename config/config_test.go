package config

import "testing"

func TestParseLevelDurations(t *testing.T) {
	got, err := parseLevelDurations("180,240,360,300,180")
	if err != nil {
		t.Fatalf("parseLevelDurations: %v", err)
	}
	want := map[int]int{1: 180, 2: 240, 3: 360, 4: 300, 5: 180}
	for level, sec := range want {
		if got[level] != sec {
			t.Errorf("level %d = %d, want %d", level, got[level], sec)
		}
	}
}

func TestParseLevelDurationsRejectsGarbage(t *testing.T) {
	for _, s := range []string{"abc", "180,-5", "180,0"} {
		if _, err := parseLevelDurations(s); err == nil {
			t.Errorf("parseLevelDurations(%q) accepted invalid input", s)
		}
	}
}

func TestLevelDurationFallback(t *testing.T) {
	cfg := ProctorConfig{
		LevelDurations:  map[int]int{1: 180},
		DefaultLevelSec: 300,
	}
	if got := cfg.LevelDuration(1); got != 180 {
		t.Errorf("LevelDuration(1) = %d, want 180", got)
	}
	if got := cfg.LevelDuration(9); got != 300 {
		t.Errorf("LevelDuration(9) = %d, want default 300", got)
	}
}
