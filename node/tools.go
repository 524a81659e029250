package node

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/rand"
)

func genMsgHashSum(data []byte) ([]byte, error) {
	msgHash := sha256.New()
	_, err := msgHash.Write(data)
	if err != nil {
		return nil, err
	}
	return msgHash.Sum(nil), nil
}

// encode encodes the data into bytes.
// Data can be of any type.
func encode(data interface{}) ([]byte, error) {
	buf := bytes.Buffer{}
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (b *Block) getHash() ([]byte, error) {
	encodedBlock, err := encode(b)
	if err != nil {
		return nil, err
	}
	return genMsgHashSum(encodedBlock)
}

func (b *Block) getHashAsString() (string, error) {
	hash, err := b.getHash()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(hash), nil
}

// generate a transaction with s bytes
func generateTX(r *rand.Rand, s int) []byte {
	trans := make([]byte, s)
	for i := range trans {
		trans[i] = byte(r.Intn(200))
	}
	return trans
}
