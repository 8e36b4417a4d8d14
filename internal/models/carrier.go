package models

import (
	"fmt"
	"strings"
)

type Carrier string

const (
	CarrierSevenEleven   Carrier = "sevenEleven"
	CarrierFamilyMart    Carrier = "familyMart"
	CarrierHiLife        Carrier = "hiLife"
	CarrierOKMart        Carrier = "okMart"
	CarrierShopee        Carrier = "shopee"
	CarrierTCat          Carrier = "tcat"
	CarrierHCT           Carrier = "hct"
	CarrierECan          Carrier = "ecan"
	CarrierPostTW        Carrier = "postTW"
	CarrierPChome        Carrier = "pchome"
	CarrierMomo          Carrier = "momo"
	CarrierKerry         Carrier = "kerry"
	CarrierTaiwanExpress Carrier = "taiwanExpress"
	CarrierDHL           Carrier = "dhl"
	CarrierFedEx         Carrier = "fedex"
	CarrierUPS           Carrier = "ups"
	CarrierSFExpress     Carrier = "sfExpress"
	CarrierYanwen        Carrier = "yanwen"
	CarrierCainiao       Carrier = "cainiao"
	CarrierCustoms       Carrier = "customs"
	CarrierOther         Carrier = "other"
)

type CarrierCategory string

const (
	CategoryConvenienceStore CarrierCategory = "convenienceStore"
	CategoryDomestic         CarrierCategory = "domestic"
	CategoryECommerce        CarrierCategory = "ecommerce"
	CategoryInternational    CarrierCategory = "international"
	CategoryOther            CarrierCategory = "other"
)

type TrackingMethod string

const (
	MethodAggregatorAPI TrackingMethod = "aggregatorAPI"
	MethodDirectAPI     TrackingMethod = "directAPI"
	MethodScraping      TrackingMethod = "scraping"
	MethodManual        TrackingMethod = "manual"
)

// CarrierInfo: неизменяемое описание перевозчика.
type CarrierInfo struct {
	Carrier  Carrier
	Category CarrierCategory
	Method   TrackingMethod
	// AggregatorID: UUID перевозчика в Track.TW, пустой если агрегатор его не знает.
	AggregatorID string
	Names        map[string]string
}

func names(hant, hans, en string) map[string]string {
	return map[string]string{"zh-Hant": hant, "zh-Hans": hans, "en": en}
}

var carrierTable = []CarrierInfo{
	{CarrierSevenEleven, CategoryConvenienceStore, MethodAggregatorAPI, "9a980809-8865-4741-9f0a-3daaaa7d9e19", names("7-11 交貨便", "7-11 交货便", "7-11")},
	{CarrierFamilyMart, CategoryConvenienceStore, MethodAggregatorAPI, "9a980968-0ecf-4ee5-8765-fbeaed8a524e", names("全家店到店", "全家店到店", "FamilyMart")},
	{CarrierHiLife, CategoryConvenienceStore, MethodAggregatorAPI, "9a980b3f-450f-4564-b73e-2ebd867666b0", names("萊爾富", "莱尔富", "Hi-Life")},
	{CarrierOKMart, CategoryConvenienceStore, MethodAggregatorAPI, "9a980d97-1101-4adb-87eb-78266878b384", names("OK 超商", "OK 超商", "OK Mart")},
	{CarrierShopee, CategoryConvenienceStore, MethodAggregatorAPI, "9a98100c-c984-463d-82a6-ae86ec4e0b8a", names("蝦皮店到店", "虾皮店到店", "Shopee Store Pickup")},
	{CarrierTCat, CategoryDomestic, MethodAggregatorAPI, "9a98160d-27e3-40ab-9357-9d81466614e0", names("黑貓宅急便", "黑猫宅急便", "T-Cat")},
	{CarrierHCT, CategoryDomestic, MethodAggregatorAPI, "9a9840bc-a5d9-4c4a-8cd2-a79031b4ad53", names("新竹物流", "新竹物流", "HCT Logistics")},
	{CarrierECan, CategoryDomestic, MethodAggregatorAPI, "9a984351-dc4f-405b-971c-671220c75f21", names("宅配通", "宅配通", "E-Can")},
	{CarrierPostTW, CategoryDomestic, MethodAggregatorAPI, "9a9812d2-c275-4726-9bdc-2ae5b4c42c73", names("中華郵政", "中华邮政", "Taiwan Post")},
	{CarrierPChome, CategoryECommerce, MethodAggregatorAPI, "9a981858-a4f4-484c-82ad-f1da04dcc5be", names("PChome 網家速配", "PChome 网家速配", "PChome")},
	{CarrierMomo, CategoryECommerce, MethodAggregatorAPI, "9a983a0c-2100-4da2-a98f-f7c83970dc35", names("momo 富昇物流", "momo 富升物流", "momo")},
	{CarrierKerry, CategoryECommerce, MethodAggregatorAPI, "9a98424a-935f-4b23-9a94-a08e1db52944", names("嘉里大榮物流", "嘉里大荣物流", "Kerry TJ Logistics")},
	{CarrierTaiwanExpress, CategoryECommerce, MethodAggregatorAPI, "9bec8b8e-6903-471d-b04c-a85c1ead56a9", names("台灣快遞", "台湾快递", "Taiwan Express")},
	{CarrierDHL, CategoryInternational, MethodAggregatorAPI, "9e2f3446-d91a-4b23-aa11-8a4bc40bde38", names("DHL Express", "DHL Express", "DHL Express")},
	{CarrierFedEx, CategoryInternational, MethodAggregatorAPI, "9b8d0e69-d3b7-4fff-a066-50f9a81d8064", names("FedEx", "FedEx", "FedEx")},
	{CarrierUPS, CategoryInternational, MethodAggregatorAPI, "9b6d1f55-5a40-40ba-a16d-219d1f762192", names("UPS", "UPS", "UPS")},
	{CarrierSFExpress, CategoryInternational, MethodAggregatorAPI, "9b39c083-c77d-45a9-b403-2112bcddb1ae", names("順豐速運", "顺丰速运", "SF Express")},
	{CarrierYanwen, CategoryInternational, MethodManual, "", names("Yanwen", "Yanwen", "Yanwen")},
	{CarrierCainiao, CategoryInternational, MethodManual, "", names("菜鳥物流", "菜鸟物流", "Cainiao")},
	{CarrierCustoms, CategoryOther, MethodAggregatorAPI, "9a98475f-1ba5-4371-bec5-b13cffd6d54b", names("關務署（海關）", "关务署（海关）", "Taiwan Customs")},
	{CarrierOther, CategoryOther, MethodManual, "", names("其他物流", "其他物流", "Other")},
}

var carrierIndex = func() map[Carrier]CarrierInfo {
	m := make(map[Carrier]CarrierInfo, len(carrierTable))
	for _, ci := range carrierTable {
		m[ci.Carrier] = ci
	}
	return m
}()

func AllCarriers() []Carrier {
	out := make([]Carrier, 0, len(carrierTable))
	for _, ci := range carrierTable {
		out = append(out, ci.Carrier)
	}
	return out
}

func (c Carrier) Info() (CarrierInfo, bool) {
	ci, ok := carrierIndex[c]
	return ci, ok
}

func (c Carrier) Valid() bool {
	_, ok := carrierIndex[c]
	return ok
}

func (c Carrier) Method() TrackingMethod {
	if ci, ok := carrierIndex[c]; ok {
		return ci.Method
	}
	return MethodManual
}

func (c Carrier) AggregatorID() string {
	return carrierIndex[c].AggregatorID
}

// DisplayName falls back to zh-Hant and then to the raw value.
func (c Carrier) DisplayName(lang string) string {
	ci, ok := carrierIndex[c]
	if !ok {
		return string(c)
	}
	if n, ok := ci.Names[lang]; ok {
		return n
	}
	if n, ok := ci.Names["zh-Hant"]; ok {
		return n
	}
	return string(c)
}

// TrackingPageURL: публичная страница Track.TW, пусто для перевозчиков без UUID.
func (c Carrier) TrackingPageURL(number string) string {
	id := c.AggregatorID()
	if id == "" {
		return ""
	}
	return fmt.Sprintf("https://track.tw/carrier/%s/%s", id, number)
}

func ParseCarrier(raw string) (Carrier, bool) {
	for _, ci := range carrierTable {
		if strings.EqualFold(string(ci.Carrier), raw) {
			return ci.Carrier, true
		}
	}
	return "", false
}
