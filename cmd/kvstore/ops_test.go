package main

import "testing"

func TestEncodeDecodeOpPutRoundTrip(t *testing.T) {
	data, err := EncodeOp(&OpPut{Key: "a", Value: "1"})
	if err != nil {
		t.Fatalf("cannot encode op: %v", err)
	}

	decoded, err := DecodeOp(data)
	if err != nil {
		t.Fatalf("cannot decode op: %v", err)
	}

	put, ok := decoded.(*OpPut)
	if !ok {
		t.Fatalf("expected *OpPut, got %T", decoded)
	}

	if put.Key != "a" || put.Value != "1" {
		t.Errorf("expected key=a value=1, got key=%s value=%s", put.Key, put.Value)
	}
}

func TestEncodeDecodeOpDeleteRoundTrip(t *testing.T) {
	data, err := EncodeOp(&OpDelete{Key: "a"})
	if err != nil {
		t.Fatalf("cannot encode op: %v", err)
	}

	decoded, err := DecodeOp(data)
	if err != nil {
		t.Fatalf("cannot decode op: %v", err)
	}

	del, ok := decoded.(*OpDelete)
	if !ok {
		t.Fatalf("expected *OpDelete, got %T", decoded)
	}

	if del.Key != "a" {
		t.Errorf("expected key=a, got key=%s", del.Key)
	}
}

func TestDecodeOpUnknownName(t *testing.T) {
	data, err := EncodeOp(&OpPut{Key: "a", Value: "1"})
	if err != nil {
		t.Fatalf("cannot encode op: %v", err)
	}

	data[0] = 'x'

	if _, err := DecodeOp(data); err == nil {
		t.Errorf("expected decoding an unknown op name to fail")
	}
}
