package main

import (
	"math/rand"
	"testing"
)

func TestParsePairs(t *testing.T) {
	got := parsePairs("BTC/USDT:65000, eth-usdt:3200, solusdt, :5, xrpusdt:abc")
	want := map[string]float64{
		"btcusdt": 65000,
		"ethusdt": 3200,
		"solusdt": 100,
		"xrpusdt": 100,
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s: got %v, want %v", k, got[k], v)
		}
	}
}

func TestWalkPrice_StaysWithinBand(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	price := 100.0
	for i := 0; i < 1000; i++ {
		next := walkPrice(rng, price)
		if next < price*0.999-1e-9 || next > price*1.001+1e-9 {
			t.Fatalf("step %d: %v -> %v outside ±0.1%%", i, price, next)
		}
		price = next
	}
}
