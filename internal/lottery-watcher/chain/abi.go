package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// lotteryABIJSON cobre só a superfície do contrato que o watcher usa:
// as três views de leitura, as duas ações de settlement e os quatro eventos.
const lotteryABIJSON = `[
  {
    "type": "function", "name": "getCurrentRound", "stateMutability": "view",
    "inputs": [],
    "outputs": [
      {"name": "roundId", "type": "uint256"},
      {"name": "state", "type": "uint8"},
      {"name": "startTime", "type": "uint256"},
      {"name": "endTime", "type": "uint256"},
      {"name": "minDrawTime", "type": "uint256"},
      {"name": "maxDrawTime", "type": "uint256"},
      {"name": "totalPot", "type": "uint256"},
      {"name": "participantCount", "type": "uint256"},
      {"name": "winner", "type": "address"},
      {"name": "commissionRate", "type": "uint256"},
      {"name": "commissionAmount", "type": "uint256"},
      {"name": "winnerPrize", "type": "uint256"}
    ]
  },
  {
    "type": "function", "name": "getParticipants", "stateMutability": "view",
    "inputs": [],
    "outputs": [
      {"name": "players", "type": "address[]"},
      {"name": "totalAmounts", "type": "uint256[]"},
      {"name": "betCounts", "type": "uint256[]"}
    ]
  },
  {
    "type": "function", "name": "getConfig", "stateMutability": "view",
    "inputs": [],
    "outputs": [
      {"name": "commissionRate", "type": "uint256"},
      {"name": "minBet", "type": "uint256"},
      {"name": "bettingDuration", "type": "uint256"},
      {"name": "minDrawDelay", "type": "uint256"},
      {"name": "maxDrawDelay", "type": "uint256"},
      {"name": "minParticipants", "type": "uint256"}
    ]
  },
  {
    "type": "function", "name": "drawWinner", "stateMutability": "nonpayable",
    "inputs": [{"name": "roundId", "type": "uint256"}], "outputs": []
  },
  {
    "type": "function", "name": "refundRound", "stateMutability": "nonpayable",
    "inputs": [{"name": "roundId", "type": "uint256"}], "outputs": []
  },
  {
    "type": "event", "name": "BetPlaced", "anonymous": false,
    "inputs": [
      {"name": "roundId", "type": "uint256", "indexed": true},
      {"name": "player", "type": "address", "indexed": true},
      {"name": "amount", "type": "uint256", "indexed": false},
      {"name": "totalPot", "type": "uint256", "indexed": false}
    ]
  },
  {
    "type": "event", "name": "RoundCreated", "anonymous": false,
    "inputs": [
      {"name": "roundId", "type": "uint256", "indexed": true},
      {"name": "startTime", "type": "uint256", "indexed": false},
      {"name": "endTime", "type": "uint256", "indexed": false}
    ]
  },
  {
    "type": "event", "name": "WinnerDrawn", "anonymous": false,
    "inputs": [
      {"name": "roundId", "type": "uint256", "indexed": true},
      {"name": "winner", "type": "address", "indexed": true},
      {"name": "prize", "type": "uint256", "indexed": false}
    ]
  },
  {
    "type": "event", "name": "RoundRefunded", "anonymous": false,
    "inputs": [
      {"name": "roundId", "type": "uint256", "indexed": true},
      {"name": "totalRefunded", "type": "uint256", "indexed": false}
    ]
  }
]`

func mustLotteryABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(lotteryABIJSON))
	if err != nil {
		panic("chain: invalid lottery ABI: " + err.Error())
	}
	return parsed
}

var lotteryABI = mustLotteryABI()
