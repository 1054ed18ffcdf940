package chain

// ArgKind distingue os tipos de argumento de um comando programável.
type ArgKind uint8

const (
	ArgGasCoin ArgKind = iota
	ArgInput
	ArgResult
	ArgNestedResult
)

// Argument referencia um input, o resultado de um comando anterior ou a moeda de gás.
type Argument struct {
	Kind      ArgKind
	Index     uint16
	Subresult uint16
}

func GasCoin() Argument        { return Argument{Kind: ArgGasCoin} }
func Input(i uint16) Argument  { return Argument{Kind: ArgInput, Index: i} }
func Result(i uint16) Argument { return Argument{Kind: ArgResult, Index: i} }
func NestedResult(i, j uint16) Argument {
	return Argument{Kind: ArgNestedResult, Index: i, Subresult: j}
}

// InputKind distingue inputs puros de objetos.
type InputKind uint8

const (
	InputPure InputKind = iota
	InputOwnedObject
	InputSharedObject
)

// PlanInput é um input de transação ainda não resolvido: objetos são
// referenciados só pelo id; o Gateway resolve versão/digest no Build.
type PlanInput struct {
	Kind     InputKind
	ObjectID string
	Mutable  bool   // apenas para objetos compartilhados
	Pure     []byte // valor já serializado em BCS
}

// CommandKind enumera os comandos suportados.
type CommandKind uint8

const (
	CmdMoveCall CommandKind = iota
	CmdTransferObjects
	CmdSplitCoins
	CmdMergeCoins
)

// Command é um passo da transação programável.
type Command struct {
	Kind CommandKind

	// MoveCall
	Package       string
	Module        string
	Function      string
	TypeArguments []string
	Arguments     []Argument

	// SplitCoins / MergeCoins: Coin é o destino, Sources as moedas a fundir
	// ou os valores a separar. TransferObjects: Sources os objetos, Recipient o endereço.
	Coin      Argument
	Sources   []Argument
	Recipient Argument
}

// Plan é a descrição não assinada de uma transação.
type Plan struct {
	Sender   string
	Inputs   []PlanInput
	Commands []Command
}
