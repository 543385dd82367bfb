package queue

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPermanentMarksError(t *testing.T) {
	base := errors.New("分镜不存在")

	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.EqualError(t, err, "分镜不存在")
	assert.ErrorIs(t, err, base)
}

func TestPermanentSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("处理失败: %w", Permanent(errors.New("状态冲突")))
	assert.True(t, IsPermanent(err))
}

func TestPlainErrorIsNotPermanent(t *testing.T) {
	assert.False(t, IsPermanent(errors.New("临时故障")))
	assert.False(t, IsPermanent(nil))
}

func TestPermanentNilIsNil(t *testing.T) {
	assert.Nil(t, Permanent(nil))
}
