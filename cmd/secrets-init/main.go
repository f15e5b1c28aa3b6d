package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"

	"github.com/betbot/lagbet/pkg/secretstore"
)

// secrets-init：把钱包私钥或助记词写进本地加密密钥库。
// 加密密钥从 LAGBET_SECRETS_KEY 读取（32 字节 hex 或 base64），
// 不设置时库是明文的，只建议在干跑调试时这样用。

func main() {
	var (
		path     = flag.String("secrets", "data/secrets", "密钥库路径")
		mnemonic = flag.Bool("mnemonic", false, "存助记词而不是私钥")
		force    = flag.Bool("force", false, "已有同名键时覆盖")
	)
	flag.Parse()

	encKey, err := secretstore.ParseKey(os.Getenv("LAGBET_SECRETS_KEY"))
	if err != nil {
		fatal(err)
	}
	if encKey == nil {
		fmt.Fprintln(os.Stderr, "⚠ 未设置 LAGBET_SECRETS_KEY，密钥库将以明文存储")
	}

	ss, err := secretstore.Open(secretstore.OpenOptions{
		Path:          *path,
		EncryptionKey: encKey,
	})
	if err != nil {
		fatal(fmt.Errorf("打开密钥库: %w", err))
	}
	defer ss.Close()

	key := "wallet:private_key"
	prompt := "请输入钱包私钥（hex，可带 0x 前缀），回车确认："
	if *mnemonic {
		key = "wallet:mnemonic"
		prompt = "请输入助记词（12/15/18/21/24 个单词），回车确认："
	}

	if _, exists, err := ss.GetString(key); err != nil {
		fatal(err)
	} else if exists && !*force {
		fatal(fmt.Errorf("密钥库里已有 %s（用 -force 覆盖）", key))
	}

	fmt.Fprintln(os.Stderr, prompt)
	secret := strings.TrimSpace(readLine())
	if secret == "" {
		fatal(errors.New("输入为空"))
	}

	// 入库前先验证一遍，坏私钥宁可现在报错也不要实盘时报
	addr, err := verify(secret, *mnemonic)
	if err != nil {
		fatal(err)
	}

	if err := ss.SetString(key, secret); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stderr, "✅ 已写入 %s（地址 %s）\n", key, addr)
}

// verify 校验输入并返回对应的钱包地址
func verify(secret string, isMnemonic bool) (string, error) {
	if isMnemonic {
		w, err := hdwallet.NewFromMnemonic(secret)
		if err != nil {
			return "", fmt.Errorf("助记词无效: %w", err)
		}
		path := hdwallet.MustParseDerivationPath("m/44'/60'/0'/0/0")
		acct, err := w.Derive(path, false)
		if err != nil {
			return "", fmt.Errorf("派生失败: %w", err)
		}
		return acct.Address.Hex(), nil
	}

	pk, err := crypto.HexToECDSA(strings.TrimPrefix(secret, "0x"))
	if err != nil {
		return "", fmt.Errorf("私钥无效: %w", err)
	}
	return crypto.PubkeyToAddress(pk.PublicKey).Hex(), nil
}

func readLine() string {
	r := bufio.NewReader(os.Stdin)
	line, _ := r.ReadString('\n')
	return line
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "错误:", err)
	os.Exit(1)
}
