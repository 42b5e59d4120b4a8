// Package chain 提供读取 EVM 兼容链状态的只读工具。
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"AgentHub/internal/tool"
)

const (
	SnapshotToolName = "chain_snapshot"
	BalanceToolName  = "eth_get_balance"
)

// Reader 是工具依赖的链上只读接口，*ethclient.Client 满足该接口。
type Reader interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Snapshot 描述链的基本信息。
type Snapshot struct {
	Network     string `json:"network,omitempty"`
	ChainID     string `json:"chain_id"`
	BlockNumber uint64 `json:"block_number"`
}

// Balance 描述账户余额。
type Balance struct {
	Address string `json:"address"`
	Wei     string `json:"wei"`
	Ether   string `json:"ether"`
}

// Dial 连接 RPC 节点。
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	return client, nil
}

// SnapshotTool 返回查询链 ID 与最新区块高度的工具。
func SnapshotTool(reader Reader, network string) tool.Tool {
	return tool.NewFunction(SnapshotToolName, "查询当前链的链 ID 与最新区块高度", nil,
		func(ctx context.Context, _ map[string]any) (any, error) {
			if reader == nil {
				return nil, errors.New("未初始化的链客户端")
			}
			chainID, err := reader.ChainID(ctx)
			if err != nil {
				return nil, fmt.Errorf("获取链 ID 失败: %w", err)
			}
			block, err := reader.BlockNumber(ctx)
			if err != nil {
				return nil, fmt.Errorf("获取最新区块高度失败: %w", err)
			}
			return Snapshot{Network: network, ChainID: chainID.String(), BlockNumber: block}, nil
		})
}

// BalanceTool 返回查询账户最新余额的工具。
func BalanceTool(reader Reader) tool.Tool {
	return tool.NewFunction(BalanceToolName, "查询以太坊地址的最新余额", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"address": map[string]any{"type": "string", "description": "0x 开头的账户地址"},
		},
		"required": []string{"address"},
	}, func(ctx context.Context, args map[string]any) (any, error) {
		if reader == nil {
			return nil, errors.New("未初始化的链客户端")
		}
		raw, _ := tool.StringArg(args, "address")
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("非法地址 %q", raw)
		}
		address := common.HexToAddress(raw)
		wei, err := reader.BalanceAt(ctx, address, nil)
		if err != nil {
			return nil, fmt.Errorf("获取余额失败: %w", err)
		}
		return Balance{Address: address.Hex(), Wei: wei.String(), Ether: weiToEther(wei)}, nil
	})
}

// Register 注册全部链上工具。
func Register(reg *tool.Registry, reader Reader, network string) error {
	if err := reg.Register(SnapshotTool(reader, network)); err != nil {
		return err
	}
	return reg.Register(BalanceTool(reader))
}

func weiToEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	value := new(big.Float).SetInt(wei)
	value.Quo(value, big.NewFloat(1e18))
	return value.Text('f', 6)
}
