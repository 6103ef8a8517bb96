package lib

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"math/rand"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
)

func PrivKeyToAddr(privateKey *ecdsa.PrivateKey) (common.Address, error) {
	publicKey := privateKey.Public()
	publicKeyECDSA, ok := publicKey.(*ecdsa.PublicKey)
	if !ok {
		return common.Address{}, fmt.Errorf("error casting public key to ECDSA")
	}

	return crypto.PubkeyToAddress(*publicKeyECDSA), nil
}

func PrivKeyStringToAddr(privateKey string) (common.Address, error) {
	privKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return common.Address{}, err
	}

	return PrivKeyToAddr(privKey)
}

// PrivKeyFromMnemonic derives the hex encoded private key of the account
// at m/44'/60'/0'/0/<accountIndex>
func PrivKeyFromMnemonic(mnemonic string, accountIndex int) (string, error) {
	wallet, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return "", err
	}

	path, err := hdwallet.ParseDerivationPath(fmt.Sprintf("m/44'/60'/0'/0/%d", accountIndex))
	if err != nil {
		return "", err
	}

	account, err := wallet.Derive(path, false)
	if err != nil {
		return "", err
	}

	return wallet.PrivateKeyHex(account)
}

// GenerateTestPrivKey returns a random hex encoded private key
func GenerateTestPrivKey() string {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	return common.Bytes2Hex(crypto.FromECDSA(key))
}

func GetRandomAddr() common.Address {
	return common.BigToAddress(big.NewInt(rand.Int63()))
}
