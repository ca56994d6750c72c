package web3

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// registrarABI is the part of the Registrar contract the client uses.
const registrarABI = `[
  {"type":"function","name":"isUserRegistered","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getUserPublicKey","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"}],
   "outputs":[{"name":"publicKey","type":"uint256[2]"}]},
  {"type":"function","name":"getAuditorPublicKey","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"publicKey","type":"uint256[2]"}]},
  {"type":"function","name":"registerUser","stateMutability":"nonpayable",
   "inputs":[
     {"name":"publicKey","type":"uint256[2]"},
     {"name":"publicSignals","type":"uint256[5]"},
     {"name":"proof","type":"uint256[8]"}],
   "outputs":[]},
  {"type":"event","name":"Register","anonymous":false,
   "inputs":[
     {"name":"user","type":"address","indexed":true},
     {"name":"publicKey","type":"uint256[2]","indexed":false}]}
]`

// encryptedERCABI is the part of the EncryptedERC contract the client uses.
const encryptedERCABI = `[
  {"type":"function","name":"getTokenId","stateMutability":"view",
   "inputs":[{"name":"token","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"deposit","stateMutability":"nonpayable",
   "inputs":[
     {"name":"amount","type":"uint256"},
     {"name":"token","type":"address"},
     {"name":"amountPCT","type":"uint256[]"}],
   "outputs":[]},
  {"type":"function","name":"withdraw","stateMutability":"nonpayable",
   "inputs":[
     {"name":"amount","type":"uint256"},
     {"name":"token","type":"address"},
     {"name":"publicSignals","type":"uint256[]"},
     {"name":"proof","type":"uint256[8]"}],
   "outputs":[]},
  {"type":"function","name":"transfer","stateMutability":"nonpayable",
   "inputs":[
     {"name":"to","type":"address"},
     {"name":"publicSignals","type":"uint256[]"},
     {"name":"proof","type":"uint256[8]"}],
   "outputs":[]}
]`

// erc20ABI is the subset of ERC20 the client uses.
const erc20ABI = `[
  {"type":"function","name":"name","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"allowance","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"transfer","stateMutability":"nonpayable",
   "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]}
]`

var (
	registrarContractABI    = mustParseABI("registrar", registrarABI)
	encryptedERCContractABI = mustParseABI("encryptedERC", encryptedERCABI)
	erc20ContractABI        = mustParseABI("erc20", erc20ABI)
)

func mustParseABI(name, def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid %s abi: %v", name, err))
	}
	return parsed
}
