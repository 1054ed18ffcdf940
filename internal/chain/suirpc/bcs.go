package suirpc

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/radieske/pricebet-settlement/internal/chain"
)

// objectRef é (id, versão, digest) de um objeto owned.
type objectRef struct {
	ID      string
	Version uint64
	Digest  string // base58
}

// resolvedObject guarda o que o Build precisa de cada input de objeto.
type resolvedObject struct {
	Ref                  objectRef
	Shared               bool
	InitialSharedVersion uint64
}

// bcsWriter acumula a serialização BCS (little-endian, ULEB128 para tamanhos
// e índices de variantes).
type bcsWriter struct {
	buf []byte
	err error
}

func (w *bcsWriter) u8(v uint8) { w.buf = append(w.buf, v) }

func (w *bcsWriter) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }

func (w *bcsWriter) u64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

func (w *bcsWriter) boolean(v bool) {
	if v {
		w.u8(1)
		return
	}
	w.u8(0)
}

func (w *bcsWriter) uleb(v uint64) { w.buf = chain.AppendULEB128(w.buf, v) }

func (w *bcsWriter) bytes(b []byte) {
	w.uleb(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *bcsWriter) str(s string) { w.bytes([]byte(s)) }

func (w *bcsWriter) address(addr string) {
	b, err := chain.AddressBytes(addr)
	if err != nil {
		w.fail(err)
		return
	}
	w.buf = append(w.buf, b[:]...)
}

func (w *bcsWriter) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *bcsWriter) objectRef(ref objectRef) {
	w.address(ref.ID)
	w.u64(ref.Version)
	d, err := base58.Decode(ref.Digest)
	if err != nil || len(d) != 32 {
		w.fail(fmt.Errorf("invalid object digest %q for %s", ref.Digest, ref.ID))
		return
	}
	w.bytes(d)
}

func (w *bcsWriter) argument(a chain.Argument) {
	switch a.Kind {
	case chain.ArgGasCoin:
		w.uleb(0)
	case chain.ArgInput:
		w.uleb(1)
		w.u16(a.Index)
	case chain.ArgResult:
		w.uleb(2)
		w.u16(a.Index)
	case chain.ArgNestedResult:
		w.uleb(3)
		w.u16(a.Index)
		w.u16(a.Subresult)
	default:
		w.fail(fmt.Errorf("unknown argument kind %d", a.Kind))
	}
}

func (w *bcsWriter) arguments(args []chain.Argument) {
	w.uleb(uint64(len(args)))
	for _, a := range args {
		w.argument(a)
	}
}

func (w *bcsWriter) input(in chain.PlanInput, objs map[string]resolvedObject) {
	if in.Kind == chain.InputPure {
		w.uleb(0)
		w.bytes(in.Pure)
		return
	}
	id, err := chain.NormalizeAddress(in.ObjectID)
	if err != nil {
		w.fail(err)
		return
	}
	obj, ok := objs[id]
	if !ok {
		w.fail(fmt.Errorf("object %s not resolved", in.ObjectID))
		return
	}
	w.uleb(1) // CallArg::Object
	switch in.Kind {
	case chain.InputOwnedObject:
		if obj.Shared {
			w.fail(fmt.Errorf("object %s is shared, expected owned", id))
			return
		}
		w.uleb(0) // ImmOrOwnedObject
		w.objectRef(obj.Ref)
	case chain.InputSharedObject:
		if !obj.Shared {
			w.fail(fmt.Errorf("object %s is not shared", id))
			return
		}
		w.uleb(1) // SharedObject
		w.address(id)
		w.u64(obj.InitialSharedVersion)
		w.boolean(in.Mutable)
	}
}

func (w *bcsWriter) command(c chain.Command) {
	switch c.Kind {
	case chain.CmdMoveCall:
		w.uleb(0)
		w.address(c.Package)
		w.str(c.Module)
		w.str(c.Function)
		w.uleb(uint64(len(c.TypeArguments)))
		for _, t := range c.TypeArguments {
			w.typeTag(t)
		}
		w.arguments(c.Arguments)
	case chain.CmdTransferObjects:
		w.uleb(1)
		w.arguments(c.Sources)
		w.argument(c.Recipient)
	case chain.CmdSplitCoins:
		w.uleb(2)
		w.argument(c.Coin)
		w.arguments(c.Sources)
	case chain.CmdMergeCoins:
		w.uleb(3)
		w.argument(c.Coin)
		w.arguments(c.Sources)
	default:
		w.fail(fmt.Errorf("unknown command kind %d", c.Kind))
	}
}

// índices de variantes de TypeTag
var primitiveTags = map[string]uint64{
	"bool": 0, "u8": 1, "u64": 2, "u128": 3, "address": 4, "signer": 5,
	"u16": 8, "u32": 9, "u256": 10,
}

// typeTag serializa tags como "0x2::coin::Coin<0x2::sui::SUI>" ou "vector<u8>".
func (w *bcsWriter) typeTag(tag string) {
	tag = strings.TrimSpace(tag)
	if idx, ok := primitiveTags[tag]; ok {
		w.uleb(idx)
		return
	}
	if strings.HasPrefix(tag, "vector<") && strings.HasSuffix(tag, ">") {
		w.uleb(6)
		w.typeTag(tag[len("vector<") : len(tag)-1])
		return
	}

	base, params := tag, ""
	if i := strings.Index(tag, "<"); i >= 0 {
		if !strings.HasSuffix(tag, ">") {
			w.fail(fmt.Errorf("invalid type tag %q", tag))
			return
		}
		base, params = tag[:i], tag[i+1:len(tag)-1]
	}
	parts := strings.Split(base, "::")
	if len(parts) != 3 {
		w.fail(fmt.Errorf("invalid struct tag %q", tag))
		return
	}
	w.uleb(7)
	w.address(parts[0])
	w.str(parts[1])
	w.str(parts[2])
	ps := splitTypeParams(params)
	w.uleb(uint64(len(ps)))
	for _, p := range ps {
		w.typeTag(p)
	}
}

// splitTypeParams separa parâmetros de topo, respeitando genéricos aninhados.
func splitTypeParams(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}

// encodeTransactionData serializa TransactionData::V1 com uma
// ProgrammableTransaction e expiração None.
func encodeTransactionData(plan chain.Plan, objs map[string]resolvedObject, gas chain.GasPayment, price uint64) ([]byte, error) {
	if len(plan.Commands) == 0 {
		return nil, fmt.Errorf("transaction has no commands")
	}
	if len(gas.Coins) == 0 {
		return nil, fmt.Errorf("gas payment has no coins")
	}
	w := &bcsWriter{}
	w.uleb(0) // TransactionData::V1
	w.uleb(0) // TransactionKind::ProgrammableTransaction

	w.uleb(uint64(len(plan.Inputs)))
	for _, in := range plan.Inputs {
		w.input(in, objs)
	}
	w.uleb(uint64(len(plan.Commands)))
	for _, c := range plan.Commands {
		w.command(c)
	}

	w.address(plan.Sender)

	// GasData
	w.uleb(uint64(len(gas.Coins)))
	for _, c := range gas.Coins {
		w.objectRef(objectRef{ID: c.ID, Version: c.Version, Digest: c.Digest})
	}
	w.address(gas.Owner)
	w.u64(price)
	w.u64(gas.Budget)

	w.uleb(0) // TransactionExpiration::None

	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}
