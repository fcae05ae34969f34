package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/drawbot/internal/apperr"
)

func TestDocumentNumber(t *testing.T) {
	rule := DocumentNumber(5)

	out := rule(" 12345 ")
	require.True(t, out.OK())
	assert.Equal(t, "12345", out.Value)

	for _, in := range []string{"", "1234", "123456", "12a45", "１２３４５", "12 45"} {
		out := rule(in)
		require.False(t, out.OK(), in)
		assert.Equal(t, "Вы ввели не корректный номер, введите 5 числовых символов", out.Rejection.Message)
		assert.Empty(t, out.Value)
	}
}

func TestDocumentNumberLength(t *testing.T) {
	assert.True(t, DocumentNumber(8)("12345678").OK())
	assert.False(t, DocumentNumber(8)("12345").OK())
	assert.True(t, DocumentNumber(0)("12345").OK())
}

func TestFullName(t *testing.T) {
	out := FullName("Иванов Иван Иванович")
	require.True(t, out.OK())
	assert.Equal(t, "иванов иван иванович", out.Value)

	assert.True(t, FullName("Петрова-Водкина Анна Сергеевна").OK())
	assert.True(t, FullName("Ёлкин Пётр Ильич").OK())

	for _, in := range []string{"Иванов Иван", "иванов иван иванович", "Ivanov Ivan Ivanovich", "Иванов  Иван Иванович", "",
		"ИвановИванИванович", "Иванов Иван Иванович-", "Иванов Иван-"} {
		out := FullName(in)
		require.False(t, out.OK(), in)
		assert.Equal(t, MsgFullName, out.Rejection.Message)
	}
}

func TestPhone(t *testing.T) {
	for _, in := range []string{"79180000025", "89180000025", "9180000025"} {
		out := Phone(in)
		require.True(t, out.OK(), in)
		assert.Equal(t, in, out.Value)
	}
	for _, in := range []string{"+79180000025", "7918000002", "69180000025", "7918000002x", "77180000025"} {
		out := Phone(in)
		require.False(t, out.OK(), in)
		assert.Equal(t, MsgPhone, out.Rejection.Message)
	}
}

func TestHandle(t *testing.T) {
	cases := map[string]string{
		"@john_doe":         "@john_doe",
		"john.doe":          "@john.doe",
		"a-b_c.d":           "@a-b_c.d",
		"@abcdefghijklmnop": "@abcdefghijklmnop",
	}
	for in, want := range cases {
		out := Handle(in)
		require.True(t, out.OK(), in)
		assert.Equal(t, want, out.Value)
	}
	for _, in := range []string{"@abcd", "abcdefghijklmnopq", "@@john_doe", "john doe", "джон_доу"} {
		out := Handle(in)
		require.False(t, out.OK(), in)
		assert.Equal(t, MsgHandle, out.Rejection.Message)
	}
}

func TestOutcomeErr(t *testing.T) {
	assert.NoError(t, Phone("79180000025").Err())

	err := Phone("nope").Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	var rej *Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, "phone", rej.Rule)
}
