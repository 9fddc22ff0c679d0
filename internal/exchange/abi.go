package exchange

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Only the parts of the contracts the bot touches.
const exchangeABIJSON = `[
	{"type":"event","name":"PositionChanged","anonymous":false,"inputs":[
		{"name":"trader","type":"address","indexed":true},
		{"name":"prevAsset","type":"int256","indexed":false},
		{"name":"prevStable","type":"int256","indexed":false},
		{"name":"newAsset","type":"int256","indexed":false},
		{"name":"newStable","type":"int256","indexed":false}
	]},
	{"type":"function","name":"liquidate","stateMutability":"nonpayable","inputs":[
		{"name":"trader","type":"address"}
	],"outputs":[]}
]`

const liquidationBotAPIABIJSON = `[
	{"type":"function","name":"isLiquidatable","stateMutability":"view","inputs":[
		{"name":"exchange","type":"address"},
		{"name":"traders","type":"address[]"}
	],"outputs":[
		{"name":"","type":"bool[]"}
	]}
]`

var (
	exchangeABI          = mustParseABI(exchangeABIJSON)
	liquidationBotAPIABI = mustParseABI(liquidationBotAPIABIJSON)

	positionChangedTopic = exchangeABI.Events["PositionChanged"].ID
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
