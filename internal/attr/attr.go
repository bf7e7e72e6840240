// Package attr builds and reads DynamoDB attribute values.
//
// The SDK's types.AttributeValue is already a closed sum type: each member
// type carries exactly one variant. The constructors here only ever return a
// single member, so a value with zero or several populated variants cannot be
// produced through this package.
package attr

import (
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Numeric lists the Go number types accepted by Number.
type Numeric interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Type descriptors as used by attribute_type().
const (
	KindString    = "S"
	KindNumber    = "N"
	KindBinary    = "B"
	KindStringSet = "SS"
	KindNumberSet = "NS"
	KindBinarySet = "BS"
	KindMap       = "M"
	KindList      = "L"
	KindBool      = "BOOL"
	KindNull      = "NULL"
)

func S(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

// N wraps decimal text. It panics when text is not a decimal number, since
// the store would reject it anyway.
func N(text string) types.AttributeValue {
	if !validNumber(text) {
		panic(fmt.Sprintf("attr: %q is not a decimal number", text))
	}
	return &types.AttributeValueMemberN{Value: text}
}

func Int(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func Uint(v uint64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatUint(v, 10)}
}

// Float formats v with the shortest exact decimal representation. NaN and
// infinities have no DynamoDB encoding and panic.
func Float(v float64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: FormatFloat(v)}
}

// Number formats any Go number without locale-sensitive formatting.
func Number[T Numeric](v T) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: FormatNumber(v)}
}

// FormatNumber returns the wire text for v.
func FormatNumber[T Numeric](v T) string {
	// Integer division truncates to zero; only float types keep the half.
	var half T = 1
	half /= 2
	if half != 0 {
		// float32 keeps its own shortest form: 0.1, not 0.10000000149011612.
		if reflect.TypeOf((*T)(nil)).Elem().Kind() == reflect.Float32 {
			return formatFloat(float64(v), 32)
		}
		return formatFloat(float64(v), 64)
	}
	if v < 0 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatUint(uint64(v), 10)
}

// FormatFloat formats f in plain decimal notation.
func FormatFloat(f float64) string { return formatFloat(f, 64) }

func formatFloat(f float64, bits int) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		panic(fmt.Sprintf("attr: %v cannot be stored as a number", f))
	}
	return strconv.FormatFloat(f, 'f', -1, bits)
}

func B(v []byte) types.AttributeValue {
	return &types.AttributeValueMemberB{Value: v}
}

func SS(v ...string) types.AttributeValue {
	return &types.AttributeValueMemberSS{Value: v}
}

// NS builds a number set from integers.
func NS(v ...int64) types.AttributeValue {
	out := make([]string, len(v))
	for i, n := range v {
		out[i] = strconv.FormatInt(n, 10)
	}
	return &types.AttributeValueMemberNS{Value: out}
}

func BS(v ...[]byte) types.AttributeValue {
	return &types.AttributeValueMemberBS{Value: v}
}

func M(v map[string]types.AttributeValue) types.AttributeValue {
	if v == nil {
		v = map[string]types.AttributeValue{}
	}
	return &types.AttributeValueMemberM{Value: v}
}

func L(v ...types.AttributeValue) types.AttributeValue {
	if v == nil {
		v = []types.AttributeValue{}
	}
	return &types.AttributeValueMemberL{Value: v}
}

func Bool(v bool) types.AttributeValue {
	return &types.AttributeValueMemberBOOL{Value: v}
}

func Null() types.AttributeValue {
	return &types.AttributeValueMemberNULL{Value: true}
}

// StringMap converts a string map to an M value of S members.
func StringMap(v map[string]string) types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(v))
	for k, s := range v {
		out[k] = S(s)
	}
	return &types.AttributeValueMemberM{Value: out}
}

// Kind returns the type descriptor of v, or "" for nil or unknown members.
func Kind(v types.AttributeValue) string {
	switch v.(type) {
	case *types.AttributeValueMemberS:
		return KindString
	case *types.AttributeValueMemberN:
		return KindNumber
	case *types.AttributeValueMemberB:
		return KindBinary
	case *types.AttributeValueMemberSS:
		return KindStringSet
	case *types.AttributeValueMemberNS:
		return KindNumberSet
	case *types.AttributeValueMemberBS:
		return KindBinarySet
	case *types.AttributeValueMemberM:
		return KindMap
	case *types.AttributeValueMemberL:
		return KindList
	case *types.AttributeValueMemberBOOL:
		return KindBool
	case *types.AttributeValueMemberNULL:
		return KindNull
	default:
		return ""
	}
}

// ValidKind reports whether k is one of the ten type descriptors.
func ValidKind(k string) bool {
	switch k {
	case KindString, KindNumber, KindBinary, KindStringSet, KindNumberSet,
		KindBinarySet, KindMap, KindList, KindBool, KindNull:
		return true
	}
	return false
}

// validNumber accepts [+-]digits[.digits][(e|E)[+-]digits] with at least one
// mantissa digit.
func validNumber(text string) bool {
	i, n := 0, len(text)
	if i < n && (text[i] == '+' || text[i] == '-') {
		i++
	}
	digits := 0
	for ; i < n && isDigit(text[i]); i++ {
		digits++
	}
	if i < n && text[i] == '.' {
		i++
		for ; i < n && isDigit(text[i]); i++ {
			digits++
		}
	}
	if digits == 0 {
		return false
	}
	if i < n && (text[i] == 'e' || text[i] == 'E') {
		i++
		if i < n && (text[i] == '+' || text[i] == '-') {
			i++
		}
		exp := 0
		for ; i < n && isDigit(text[i]); i++ {
			exp++
		}
		if exp == 0 {
			return false
		}
	}
	return i == n
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
