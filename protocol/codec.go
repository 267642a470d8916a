package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrFrameTooLarge   = errors.New("declared frame length exceeds limit")
	ErrBadVersion      = errors.New("unsupported protocol version")
	ErrUnknownKind     = errors.New("unknown packet kind")
	ErrTruncated       = errors.New("truncated packet")
	ErrMalformed       = errors.New("malformed payload")
)

// Codec 负责载荷（帧头之后的字节）的序列化，帧头格式与之无关
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	// Validate 检查载荷是否为一个完整的对象
	Validate(data []byte) error
}

var (
	JSON    Codec = jsonCodec{}
	MsgPack Codec = msgpackCodec{}
)

// CodecByName 根据配置名获取编解码器，空串默认 JSON
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSON, nil
	case "msgpack":
		return MsgPack, nil
	}
	return nil, fmt.Errorf("unknown payload codec %q", name)
}

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Validate(data []byte) error {
	if !utf8.Valid(data) {
		return errors.New("invalid utf-8")
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return errors.New("payload is not a json object")
	}
	if !json.Valid(data) {
		return errors.New("invalid json")
	}
	return nil
}

// msgpackCodec 复用 json 标签，使两种载荷的字段名保持一致
type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

// Validate 嵌套 map 可能以整数为键（如队伍表），按无类型 map 解码
func (msgpackCodec) Validate(data []byte) error {
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)
	dec.SetMapDecoder(func(d *msgpack.Decoder) (interface{}, error) {
		return d.DecodeUntypedMap()
	})
	v, err := dec.DecodeInterface()
	if err != nil {
		return err
	}
	if _, ok := v.(map[interface{}]interface{}); !ok {
		return errors.New("payload is not a msgpack map")
	}
	if r.Len() != 0 {
		return fmt.Errorf("%d trailing bytes after msgpack map", r.Len())
	}
	return nil
}

// Packet 解码后的一个完整数据包
type Packet struct {
	Kind    Kind
	Payload []byte

	codec Codec
}

// Unmarshal 将载荷解码到 v
func (p Packet) Unmarshal(v any) error {
	c := p.codec
	if c == nil {
		c = JSON
	}
	if err := c.Unmarshal(p.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, p.Kind, err)
	}
	return nil
}

// DecodePayload 按类型解码载荷
func DecodePayload[T any](p Packet) (T, error) {
	var out T
	err := p.Unmarshal(&out)
	return out, err
}

// Framer 使用指定 Codec 进行帧编解码；零值使用 JSON
type Framer struct {
	Codec Codec
}

func (f Framer) codec() Codec {
	if f.Codec == nil {
		return JSON
	}
	return f.Codec
}

// Encode 生成 header ‖ payload
func (f Framer) Encode(kind Kind, payload any) ([]byte, error) {
	body, err := f.codec().Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	if len(body) > MaxPayloadSize {
		return nil, fmt.Errorf("encode %s: %w (%d > %d)", kind, ErrPayloadTooLarge, len(body), MaxPayloadSize)
	}
	buf := make([]byte, HeaderSize+len(body))
	buf[0] = Version
	buf[1] = byte(kind)
	binary.BigEndian.PutUint32(buf[2:HeaderSize], uint32(len(body)))
	copy(buf[HeaderSize:], body)
	return buf, nil
}

// Decode 解析一个完整数据包；任何格式问题都返回错误，不会 panic
func (f Framer) Decode(buf []byte) (Packet, error) {
	if len(buf) < HeaderSize {
		return Packet{}, fmt.Errorf("%w: %d header bytes", ErrTruncated, len(buf))
	}
	if buf[0] != Version {
		return Packet{}, fmt.Errorf("%w: %d", ErrBadVersion, buf[0])
	}
	kind := Kind(buf[1])
	if !kind.Known() {
		return Packet{}, fmt.Errorf("%w: %d", ErrUnknownKind, buf[1])
	}
	n := binary.BigEndian.Uint32(buf[2:HeaderSize])
	if n > MaxPayloadSize {
		return Packet{}, fmt.Errorf("%w: %d", ErrFrameTooLarge, n)
	}
	if uint64(len(buf)-HeaderSize) != uint64(n) {
		return Packet{}, fmt.Errorf("%w: declared %d, have %d", ErrTruncated, n, len(buf)-HeaderSize)
	}
	c := f.codec()
	if err := c.Validate(buf[HeaderSize:]); err != nil {
		return Packet{}, fmt.Errorf("%w: %s: %v", ErrMalformed, kind, err)
	}
	payload := make([]byte, n)
	copy(payload, buf[HeaderSize:])
	return Packet{Kind: kind, Payload: payload, codec: c}, nil
}

// Encode 使用 JSON 载荷编码
func Encode(kind Kind, payload any) ([]byte, error) {
	return Framer{}.Encode(kind, payload)
}

// Decode 使用 JSON 载荷解码
func Decode(buf []byte) (Packet, error) {
	return Framer{}.Decode(buf)
}

// ReadOne 从流中读取恰好一个数据包（6 字节帧头 + 声明长度的载荷）。
// 短读会持续等待直到读满；流在任何时刻关闭都返回错误。
func ReadOne(r io.Reader) ([]byte, error) {
	hdr := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[2:HeaderSize])
	if n > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d", ErrFrameTooLarge, n)
	}
	buf := make([]byte, HeaderSize+int(n))
	copy(buf, hdr)
	if _, err := io.ReadFull(r, buf[HeaderSize:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}
