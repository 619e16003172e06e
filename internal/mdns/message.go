// Package mdns implements the read-only RFC 1035 / 6762 framing the
// gateway understands well enough to recognize service-discovery probes
// arriving on the same network segment. It is a parser only: this process
// never answers mDNS queries, and no other package in this tree imports
// it.
package mdns

import (
	"encoding/binary"
	"fmt"
)

// MaxDatagramSize bounds a decodable message. EDNS0 datagrams larger than
// this are rejected rather than partially parsed.
const MaxDatagramSize = 512

// headerSize is the fixed 12-byte id/flags/4×count header every message
// starts with.
const headerSize = 12

// RecordType is the RR TYPE field (A, PTR, TXT, SRV, ...). Only the values
// the gateway's diagnostics care about are named; anything else decodes
// fine but prints as a bare number.
type RecordType uint16

const (
	TypeA     RecordType = 1
	TypePTR   RecordType = 12
	TypeTXT   RecordType = 16
	TypeAAAA  RecordType = 28
	TypeSRV   RecordType = 33
)

// Header is the fixed 12-byte section every mDNS/DNS message opens with.
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// IsResponse reports whether the QR bit (the high bit of Flags) is set.
func (h Header) IsResponse() bool {
	return h.Flags&0x8000 != 0
}

// Question is one entry of the question section.
type Question struct {
	Name  string
	Type  RecordType
	Class uint16
}

// ResourceRecord is one entry of the answer/authority/additional sections.
// RDATA is left undecoded: interpreting it depends on Type and the
// diagnostics surface only needs to report what kind of record arrived and
// how large it was, not its contents.
type ResourceRecord struct {
	Name  string
	Type  RecordType
	Class uint16
	TTL   uint32
	RDATA []byte
}

// Message is a decoded mDNS/DNS packet: its header, question section and
// answer section. Authority and additional records are not decoded.
type Message struct {
	Header    Header
	Questions []Question
	Answers   []ResourceRecord
}

// Parse decodes a UDP datagram payload into a Message. It validates the
// minimum framing (header present, at least one question) and fails on any
// question or answer it cannot fully read. The NSCount/ARCount sections
// are not parsed: any bytes after the answer section are ignored.
func Parse(data []byte) (*Message, error) {
	if len(data) > MaxDatagramSize {
		return nil, fmt.Errorf("mdns: datagram of %d bytes exceeds max %d (EDNS0 not supported)", len(data), MaxDatagramSize)
	}
	if len(data) < headerSize {
		return nil, fmt.Errorf("mdns: message of %d bytes shorter than header size %d", len(data), headerSize)
	}

	hdr := Header{
		ID:      binary.BigEndian.Uint16(data[0:2]),
		Flags:   binary.BigEndian.Uint16(data[2:4]),
		QDCount: binary.BigEndian.Uint16(data[4:6]),
		ANCount: binary.BigEndian.Uint16(data[6:8]),
		NSCount: binary.BigEndian.Uint16(data[8:10]),
		ARCount: binary.BigEndian.Uint16(data[10:12]),
	}
	if hdr.QDCount < 1 {
		return nil, fmt.Errorf("mdns: message declares zero questions")
	}

	r := &reader{buf: data, offset: headerSize}

	questions := make([]Question, 0, hdr.QDCount)
	for i := uint16(0); i < hdr.QDCount; i++ {
		name, err := r.readName()
		if err != nil {
			return nil, fmt.Errorf("mdns: question %d name: %w", i, err)
		}
		qtype, err := r.readUint16()
		if err != nil {
			return nil, fmt.Errorf("mdns: question %d type: %w", i, err)
		}
		qclass, err := r.readUint16()
		if err != nil {
			return nil, fmt.Errorf("mdns: question %d class: %w", i, err)
		}
		questions = append(questions, Question{Name: name, Type: RecordType(qtype), Class: qclass})
	}

	answers := make([]ResourceRecord, 0, hdr.ANCount)
	for i := uint16(0); i < hdr.ANCount; i++ {
		rr, err := r.readResourceRecord()
		if err != nil {
			return nil, fmt.Errorf("mdns: answer %d: %w", i, err)
		}
		answers = append(answers, rr)
	}

	return &Message{Header: hdr, Questions: questions, Answers: answers}, nil
}

// reader walks the datagram sequentially, resolving name-compression
// pointers against the bytes already consumed.
type reader struct {
	buf    []byte
	offset int
}

func (r *reader) readUint16() (uint16, error) {
	if r.offset+2 > len(r.buf) {
		return 0, fmt.Errorf("truncated uint16 at offset %d", r.offset)
	}
	v := binary.BigEndian.Uint16(r.buf[r.offset : r.offset+2])
	r.offset += 2
	return v, nil
}

func (r *reader) readUint32() (uint32, error) {
	if r.offset+4 > len(r.buf) {
		return 0, fmt.Errorf("truncated uint32 at offset %d", r.offset)
	}
	v := binary.BigEndian.Uint32(r.buf[r.offset : r.offset+4])
	r.offset += 4
	return v, nil
}

// readName decodes a possibly-compressed domain name starting at the
// reader's current offset. Labels carry a leading two-bit tag: `00` means
// the low six bits are a literal label length;
// `11` means the low fourteen bits are a byte offset into the datagram
// where the name continues. Any other tag is malformed per RFC 1035.
func (r *reader) readName() (string, error) {
	var labels []string
	pos := r.offset
	jumped := false
	visited := 0

	for {
		if pos >= len(r.buf) {
			return "", fmt.Errorf("name runs past end of message at offset %d", pos)
		}
		b := r.buf[pos]
		tag := b & 0xC0

		switch tag {
		case 0x00:
			length := int(b & 0x3F)
			if length == 0 {
				pos++
				if !jumped {
					r.offset = pos
				}
				return joinLabels(labels), nil
			}
			start := pos + 1
			if start+length > len(r.buf) {
				return "", fmt.Errorf("label runs past end of message at offset %d", pos)
			}
			labels = append(labels, string(r.buf[start:start+length]))
			pos = start + length

		case 0xC0:
			if pos+2 > len(r.buf) {
				return "", fmt.Errorf("truncated compression pointer at offset %d", pos)
			}
			offset := int(binary.BigEndian.Uint16(r.buf[pos:pos+2]) & 0x3FFF)
			if !jumped {
				r.offset = pos + 2
			}
			visited++
			if visited > len(r.buf) {
				return "", fmt.Errorf("compression pointer loop detected")
			}
			pos = offset
			jumped = true

		default:
			return "", fmt.Errorf("unsupported name label tag 0x%02x at offset %d", tag, pos)
		}
	}
}

func joinLabels(labels []string) string {
	out := ""
	for i, l := range labels {
		if i > 0 {
			out += "."
		}
		out += l
	}
	return out
}

func (r *reader) readResourceRecord() (ResourceRecord, error) {
	name, err := r.readName()
	if err != nil {
		return ResourceRecord{}, fmt.Errorf("name: %w", err)
	}
	rtype, err := r.readUint16()
	if err != nil {
		return ResourceRecord{}, fmt.Errorf("type: %w", err)
	}
	class, err := r.readUint16()
	if err != nil {
		return ResourceRecord{}, fmt.Errorf("class: %w", err)
	}
	ttl, err := r.readUint32()
	if err != nil {
		return ResourceRecord{}, fmt.Errorf("ttl: %w", err)
	}
	rdlength, err := r.readUint16()
	if err != nil {
		return ResourceRecord{}, fmt.Errorf("rdlength: %w", err)
	}
	if r.offset+int(rdlength) > len(r.buf) {
		return ResourceRecord{}, fmt.Errorf("rdata of length %d runs past end of message", rdlength)
	}
	rdata := append([]byte(nil), r.buf[r.offset:r.offset+int(rdlength)]...)
	r.offset += int(rdlength)

	return ResourceRecord{
		Name:  name,
		Type:  RecordType(rtype),
		Class: class,
		TTL:   ttl,
		RDATA: rdata,
	}, nil
}
