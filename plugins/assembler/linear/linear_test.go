package linear

import (
	"context"
	"io"
	"testing"

	"dirparse/pkg/contract"
)

// TestAssembleSuccess 测试正常线性拼接
func TestAssembleSuccess(t *testing.T) {
	a, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	blocks := []contract.Block{
		{FileID: "f", Index: 0, Text: "hello"},
		{FileID: "f", Index: 1, Text: "world"},
	}
	r, err := a.Assemble(context.Background(), "f", blocks)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	b, _ := io.ReadAll(r)
	if string(b) != "helloworld" {
		t.Fatalf("unexpected output %q", string(b))
	}
}

// TestAssembleSeqInvalid 测试 FileID 混入导致错误
func TestAssembleSeqInvalid(t *testing.T) {
	a, _ := New(nil)
	blocks := []contract.Block{{FileID: "a", Index: 0, Text: "x"}}
	_, err := a.Assemble(context.Background(), "b", blocks)
	if err == nil || err != contract.ErrSeqInvalid {
		t.Fatalf("expect ErrSeqInvalid, got %v", err)
	}
}

// TestAssembleDuplicateIndex 测试索引逆序或重复
func TestAssembleDuplicateIndex(t *testing.T) {
	a, _ := New(nil)
	blocks := []contract.Block{
		{FileID: "f", Index: 1, Text: "a"},
		{FileID: "f", Index: 1, Text: "b"},
	}
	if _, err := a.Assemble(context.Background(), "f", blocks); err != contract.ErrSeqInvalid {
		t.Fatalf("expect ErrSeqInvalid, got %v", err)
	}
}

// TestAssembleEmpty 测试空输入
func TestAssembleEmpty(t *testing.T) {
	a, _ := New(nil)
	r, err := a.Assemble(context.Background(), "f", nil)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	data, _ := io.ReadAll(r)
	if len(data) != 0 {
		t.Fatalf("expect empty, got %q", string(data))
	}
}
