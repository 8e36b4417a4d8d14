package normalizer

import (
	"testing"

	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/stretchr/testify/require"
)

func TestNormalize_Table(t *testing.T) {
	cases := []struct {
		name      string
		text      string
		delivered bool
		want      models.Status
	}{
		{"flag wins", "配送中", true, models.StatusDelivered},
		{"return beats transit", "包裹退回 轉運中", false, models.StatusReturned},
		{"latin return beats transit", "Return in transit to sender", false, models.StatusReturned},
		{"arrived", "已到店，待取件", false, models.StatusArrivedAtStore},
		{"in transit", "包裹配送中", false, models.StatusInTransit},
		{"shipped", "賣家已寄出", false, models.StatusShipped},
		{"unknown", "???", false, models.StatusPending},
		{"empty", "", false, models.StatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Normalize(tc.text, tc.delivered))
		})
	}
}

func TestFromCheckpoint(t *testing.T) {
	require.Equal(t, models.StatusDelivered, FromCheckpoint("delivered", ""))
	require.Equal(t, models.StatusReturned, FromCheckpoint("exception", "配送中"))
	require.Equal(t, models.StatusPending, FromCheckpoint("pending", "已到店"))
	require.Equal(t, models.StatusPending, FromCheckpoint("weird", "已到店"))

	// transit подстатусы
	require.Equal(t, models.StatusPending, FromCheckpoint("transit", "賣家將於明日出貨"))
	require.Equal(t, models.StatusArrivedAtStore, FromCheckpoint("transit", "[中和福美 - 智取店] 包裹已到店"))
	require.Equal(t, models.StatusInTransit, FromCheckpoint("transit", "包裹轉運中"))
	require.Equal(t, models.StatusShipped, FromCheckpoint("transit", "賣家已出貨"))
	require.Equal(t, models.StatusInTransit, FromCheckpoint("transit", "something else"))
}

func TestFromVendorCode(t *testing.T) {
	require.Equal(t, models.StatusArrivedAtStore, FromVendorCode("SP_Ready_Collection", ""))
	require.Equal(t, models.StatusDelivered, FromVendorCode("SP_Collection_Collected", ""))
	require.Equal(t, models.StatusReturned, FromVendorCode("SP_Returned", ""))
	require.Equal(t, models.StatusShipped, FromVendorCode("Created", ""))
	require.Equal(t, models.StatusInTransit, FromVendorCode("UNKNOWN", "物流中心理貨"))
	require.Equal(t, models.StatusPending, FromVendorCode("UNKNOWN", ""))
}

func TestExtractBracketLocation(t *testing.T) {
	require.Equal(t, "中和福美 - 智取店", ExtractBracketLocation("[中和福美 - 智取店] 買家取件成功"))
	require.Empty(t, ExtractBracketLocation("買家取件成功"))
}

func TestKeywordTable_Classify(t *testing.T) {
	table := KeywordTable{
		{Status: models.StatusDelivered, Keywords: []string{"取件完成"}},
		{Status: models.StatusInTransit, Keywords: []string{"配達中"}},
	}
	require.Equal(t, models.StatusDelivered, table.Classify("買家取件完成", false))
	require.Equal(t, models.StatusInTransit, table.Classify("貨件配達中", false))
	// нет совпадения: общий словарь
	require.Equal(t, models.StatusArrivedAtStore, table.Classify("已到店", false))
	require.Equal(t, models.StatusDelivered, table.Classify("", true))
}
