package cloud

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hashpath/foreman/pkg/types"
)

// blockPrefix marks a stored ip_address field as a passphrase block
const blockPrefix = "enc:"

// encodeBlock serializes a passphrase block into the ip_address field
func encodeBlock(block *types.PassphraseBlock) (string, error) {
	data, err := json.Marshal(block)
	if err != nil {
		return "", err
	}
	return blockPrefix + string(data), nil
}

// decodeBlock parses a stored passphrase block
func decodeBlock(stored string) (*types.PassphraseBlock, error) {
	if !strings.HasPrefix(stored, blockPrefix) {
		return nil, fmt.Errorf("stored address is not an encrypted block")
	}
	var block types.PassphraseBlock
	if err := json.Unmarshal([]byte(stored[len(blockPrefix):]), &block); err != nil {
		return nil, err
	}
	return &block, nil
}
