package signing

// ClobAuth 域的 EIP712 常量，协议固定值，改了签名就对不上
const (
	ClobDomainName = "ClobAuthDomain"
	ClobVersion    = "1"
	MsgToSign      = "This message attests that I control the given wallet"
)
