package benchmark

import (
	"fmt"
	"io"
	"regexp"
	"sort"
	"text/template"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// FixtureCase is one path replayed by the generated Solidity test.
type FixtureCase struct {
	PathID   string
	Calldata []byte
}

type fixtureData struct {
	Aggregator common.Address
	Cases      []fixtureCase
}

type fixtureCase struct {
	Name     string
	PathID   string
	Calldata string
}

var fixtureTemplate = template.Must(template.New("fixture").Parse(`// SPDX-License-Identifier: UNLICENSED
// Code generated by gasbench. DO NOT EDIT.
pragma solidity ^0.8.20;

import "forge-std/Test.sol";

contract GasBenchTest is Test {
    address constant AGGREGATOR = {{.Aggregator.Hex}};

    function replay(bytes memory data) internal {
        (bool ok, bytes memory ret) = AGGREGATOR.call(data);
        if (!ok) {
            assembly {
                revert(add(ret, 32), mload(ret))
            }
        }
    }
{{range .Cases}}
    // {{.PathID}}
    function test_{{.Name}}() public {
        replay(hex"{{.Calldata}}");
    }
{{end}}}
`))

var nonIdent = regexp.MustCompile(`[^A-Za-z0-9]+`)

// WriteFixture renders a Foundry test that replays each case against aggregator, ordered by path id.
func WriteFixture(w io.Writer, aggregator common.Address, cases []FixtureCase) error {
	sorted := append([]FixtureCase(nil), cases...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].PathID < sorted[j].PathID })

	data := fixtureData{Aggregator: aggregator, Cases: make([]fixtureCase, len(sorted))}
	for i, c := range sorted {
		data.Cases[i] = fixtureCase{
			Name:     fmt.Sprintf("%03d_%s", i, nonIdent.ReplaceAllString(c.PathID, "_")),
			PathID:   c.PathID,
			Calldata: hexutil.Encode(c.Calldata)[2:],
		}
	}
	if err := fixtureTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("benchmark: render fixture: %w", err)
	}
	return nil
}
