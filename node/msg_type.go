package node

import "reflect"

const (
	ProposalTag uint8 = iota
	ElectTag
)

var proposal Block
var elect Elect

var reflectedTypesMap = map[uint8]reflect.Type{
	ProposalTag: reflect.TypeOf(proposal),
	ElectTag:    reflect.TypeOf(elect),
}
