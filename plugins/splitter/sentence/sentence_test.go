package sentence

import (
	"testing"
)

func TestNewRequiresModelPath(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("缺少 model_path 应报错")
	}
	if _, err := New(&Options{}); err == nil {
		t.Fatalf("空 model_path 应报错")
	}
}

func TestNewMissingModelFile(t *testing.T) {
	if _, err := New(&Options{ModelPath: "no/such/model.json"}); err == nil {
		t.Fatalf("训练数据缺失应报错")
	}
}
