package cache

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Serializer 值与字节串之间的编解码
type Serializer[T any] interface {
	Serialize(v T) ([]byte, error)
	Deserialize(buf []byte) (T, error)
}

// MsgPackSerializer 默认的二进制序列化器
type MsgPackSerializer[T any] struct{}

func (s *MsgPackSerializer[T]) Serialize(v T) ([]byte, error) {
	buf, err := msgpack.Marshal(v)
	if err != nil {
		return nil, errors.WithMessage(err, "msgpack.Marshal failed")
	}
	return buf, nil
}

func (s *MsgPackSerializer[T]) Deserialize(buf []byte) (T, error) {
	var v T
	if err := msgpack.Unmarshal(buf, &v); err != nil {
		return v, errors.WithMessage(err, "msgpack.Unmarshal failed")
	}
	return v, nil
}

// JSONSerializer 文本序列化器，便于人工排查缓存内容
type JSONSerializer[T any] struct{}

func (s *JSONSerializer[T]) Serialize(v T) ([]byte, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WithMessage(err, "json.Marshal failed")
	}
	return buf, nil
}

func (s *JSONSerializer[T]) Deserialize(buf []byte) (T, error) {
	var v T
	if err := json.Unmarshal(buf, &v); err != nil {
		return v, errors.WithMessage(err, "json.Unmarshal failed")
	}
	return v, nil
}
