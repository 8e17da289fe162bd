package models

import (
	"encoding/json"
	"testing"
)

func TestKlineDecodesStringsAndNumbers(t *testing.T) {
	var k Kline
	in := `{"timestamp":1700000060000,"open":"10.5","high":11,"low":"9.25","close":10,"volume":"3"}`
	if err := json.Unmarshal([]byte(in), &k); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	b := k.Bar()
	if b.Time != 1700000060 || b.Open != 10.5 || b.High != 11 || b.Low != 9.25 || b.Close != 10 {
		t.Fatalf("unexpected bar %+v", b)
	}
	if b.Volume == nil || *b.Volume != 3 {
		t.Fatalf("unexpected volume %v", b.Volume)
	}
}

func TestKlineWithoutVolume(t *testing.T) {
	var k Kline
	if err := json.Unmarshal([]byte(`{"timestamp":0,"open":1,"high":1,"low":1,"close":1}`), &k); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if k.Bar().Volume != nil {
		t.Fatal("absent volume must stay nil")
	}
}

func TestNumberRejectsGarbage(t *testing.T) {
	var n Number
	if err := json.Unmarshal([]byte(`"abc"`), &n); err == nil {
		t.Fatal("expected error")
	}
}

func TestMergeZipsVolumes(t *testing.T) {
	s := AggregatedSeries{
		Bars:    []OHLC{{Time: 0, Close: 1}, {Time: 60, Close: 2}},
		Volumes: []VolumePoint{{Time: 0, Value: 5}},
	}
	got := s.Merge()
	if got[0].Volume == nil || *got[0].Volume != 5 || got[1].Volume != nil {
		t.Fatalf("unexpected merge %+v", got)
	}
}
